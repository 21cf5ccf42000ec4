package testutil

// SampleConfig is an autoa.yaml with every delay zeroed and a short
// vision timeout, so runs against a mock driver finish immediately.
const SampleConfig = `vision:
  default_threshold: 0.9
  timeout_sec: 0.01
  retries: 0
  poll_ms: 5
delays:
  click_ms: [0, 0]
  type_ms: [0, 0]
  random_jitter_ms: [0, 0]
throttle:
  max_recipients_per_run: 0
  min_interval_sec: [0, 0]
  daily_cap: 0
  match_policy: id_then_name
logs:
  screenshot_on_fail: false
  level: error
run:
  max_duration_min: 0
  jump_cap: 50
  max_consecutive_failures: 0
  seed: 7
  app_window: LINE
`

// SampleTask greets every recipient: open the chat, type a greeting, send.
const SampleTask = `name: greet
variables:
  greeting: Hi
steps:
  - label: home
    locate_click: {templates: [home.png]}
  - for_each_recipient: {}
  - press: esc
for_each_recipient:
  source: recipients.csv
  blacklist: blacklist.txt
  unsubscribe: unsubscribe.txt
  steps_ref: per_recipient
lists:
  per_recipient:
    - label: open
      locate_click: {templates: [chat.png]}
    - label: write
      type_text: "${greeting} ${name}"
    - label: send
      press: enter
`

// SampleRecipients lists three recipients, one with an extra column.
const SampleRecipients = `name,uid,tags
Alice,u1,vip
Bob,u2,
Cara,u3,
`

// SampleBlacklist blocks Bob by uid.
const SampleBlacklist = `# never contact
u2
`

// SampleTemplates are the template images SampleTask refers to.
var SampleTemplates = []string{"home.png", "chat.png"}

// fakePNG is the PNG signature; preflight only checks that templates exist.
var fakePNG = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}
