// Package preflight runs the checks that must pass before a task touches
// the target application: every template image exists, the recipient
// files are readable and the application window can be focused.
package preflight

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/Craig-0219/potato-autoA/internal/logging"
	"github.com/Craig-0219/potato-autoA/internal/ports"
	"github.com/Craig-0219/potato-autoA/internal/recipients"
	"github.com/Craig-0219/potato-autoA/internal/task"
)

// Check names used in Problem.Check.
const (
	CheckTemplates  = "templates"
	CheckRecipients = "recipients"
	CheckWindow     = "window"
)

// Problem is one failed check.
type Problem struct {
	Check   string
	Subject string
	Message string
}

func (p Problem) Error() string {
	return fmt.Sprintf("%s: %s: %s", p.Check, p.Subject, p.Message)
}

// Options configures a preflight run.
type Options struct {
	Window  ports.Window // nil skips the focus check
	AppName string       // window to focus; "" skips the focus check
}

// Result collects the problems found by Run.
type Result struct {
	Problems []Problem
}

// OK reports whether every check passed.
func (r Result) OK() bool {
	return len(r.Problems) == 0
}

// Err joins the problems into one error, or nil.
func (r Result) Err() error {
	if r.OK() {
		return nil
	}
	errs := make([]error, len(r.Problems))
	for i, p := range r.Problems {
		errs[i] = p
	}
	return errors.Join(errs...)
}

// Run performs every check concurrently. Cancellation aborts the window
// check; file checks always complete.
func Run(ctx context.Context, def *task.Definition, opts Options) (Result, error) {
	var (
		mu       sync.Mutex
		problems []Problem
	)
	add := func(p Problem) {
		mu.Lock()
		problems = append(problems, p)
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		checkTemplates(def, add)
		return nil
	})
	if def.ForEach != nil {
		g.Go(func() error {
			checkRecipients(def, add)
			return nil
		})
	}
	if opts.Window != nil && opts.AppName != "" {
		g.Go(func() error {
			return checkWindow(gctx, opts.Window, opts.AppName, add)
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	sort.SliceStable(problems, func(i, j int) bool {
		if problems[i].Check != problems[j].Check {
			return problems[i].Check < problems[j].Check
		}
		return problems[i].Subject < problems[j].Subject
	})
	res := Result{Problems: problems}
	if !res.OK() {
		logging.Warn("preflight failed", "task", def.Name, "problems", len(problems))
	}
	return res, nil
}

// Templates returns the resolved path of every template referenced by
// def, in first-use order without duplicates. Templates containing
// placeholders are returned unresolved.
func Templates(def *task.Definition) []string {
	seen := map[string]bool{}
	var out []string
	visit := func(steps []task.Step) {
		for _, s := range steps {
			for _, a := range s.Anchors() {
				for _, t := range a.Templates {
					p := def.Path(t)
					if !seen[p] {
						seen[p] = true
						out = append(out, p)
					}
				}
			}
		}
	}
	visit(def.Steps)
	names := make([]string, 0, len(def.Lists))
	for name := range def.Lists {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		visit(def.Lists[name])
	}
	return out
}

func checkTemplates(def *task.Definition, add func(Problem)) {
	for _, p := range Templates(def) {
		if len(task.Placeholders(p)) > 0 {
			continue
		}
		if msg := fileProblem(p); msg != "" {
			add(Problem{Check: CheckTemplates, Subject: p, Message: msg})
		}
	}
}

func checkRecipients(def *task.Definition, add func(Problem)) {
	fe := def.ForEach
	if fe.Source == "" {
		add(Problem{Check: CheckRecipients, Subject: "source", Message: "no recipient source configured"})
	} else if _, err := recipients.Load(def.Path(fe.Source)); err != nil {
		add(Problem{Check: CheckRecipients, Subject: def.Path(fe.Source), Message: err.Error()})
	}
	for _, p := range []string{fe.Blacklist, fe.Unsubscribe} {
		if p == "" {
			continue
		}
		if _, err := recipients.LoadSet(def.Path(p)); err != nil {
			add(Problem{Check: CheckRecipients, Subject: def.Path(p), Message: err.Error()})
		}
	}
}

func checkWindow(ctx context.Context, w ports.Window, name string, add func(Problem)) error {
	ok, err := w.FocusWindow(ctx, name)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	switch {
	case err != nil:
		add(Problem{Check: CheckWindow, Subject: name, Message: err.Error()})
	case !ok:
		add(Problem{Check: CheckWindow, Subject: name, Message: "window not found or could not be focused"})
	}
	return nil
}

func fileProblem(path string) string {
	info, err := os.Stat(path)
	switch {
	case os.IsNotExist(err):
		return "file not found"
	case err != nil:
		return err.Error()
	case info.IsDir():
		return "is a directory"
	}
	f, err := os.Open(path)
	if err != nil {
		return err.Error()
	}
	_ = f.Close()
	return ""
}
