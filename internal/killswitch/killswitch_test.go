package killswitch

import (
	"context"
	"errors"
	"os/exec"
	"runtime"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rustyeddy/killswitch/internal/notify"
	"github.com/rustyeddy/killswitch/risk"
)

type fakeRunner struct {
	results []Result
	calls   int
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) Result {
	i := f.calls
	if i >= len(f.results) {
		i = len(f.results) - 1
	}
	f.calls++
	return f.results[i]
}

var threshold = risk.Threshold{Kind: risk.Dollar, Value: decimal.NewFromInt(-500)}

func newExecutor(r Runner, n notify.Notifier) *Executor {
	return New(Config{Command: "/usr/local/bin/kill_webull"}, threshold, r, n, zap.NewNop())
}

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		result  Result
		outcome Outcome
		partial bool
		fails   bool
	}{
		{"closed", Result{Output: "Webull Desktop Successfully terminated\n"}, OutcomeClosed, false, false},
		{"lowercase closed", Result{Output: "all windows closed"}, OutcomeClosed, false, false},
		{"not running", Result{Output: "Webull is not running"}, OutcomeNothingToClose, false, false},
		{"empty output", Result{}, OutcomeNothingToClose, false, false},
		{"partial", Result{Output: "closed Webull\nFailed to close Webull Helper"}, OutcomePartial, true, true},
		{"non zero exit", Result{Output: "permission denied", ExitCode: 1}, OutcomeFailed, false, true},
		{"start failure", Result{ExitCode: -1, Err: exec.ErrNotFound}, OutcomeFailed, false, true},
		{"timeout", Result{ExitCode: -1, Err: context.DeadlineExceeded}, OutcomeFailed, false, true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			outcome, err := Classify(tt.result, DefaultSuccessMarkers, DefaultPartialMarkers)
			assert.Equal(t, tt.outcome, outcome)
			if !tt.fails {
				assert.NoError(t, err)
				return
			}
			var ke *KillError
			require.True(t, errors.As(err, &ke))
			assert.Equal(t, tt.partial, ke.Partial)
		})
	}
}

func TestExecuteIsIdempotent(t *testing.T) {
	runner := &fakeRunner{results: []Result{
		{Output: "Webull Successfully terminated"},
		{Output: "Webull is not running"},
	}}
	var rec notify.Recorder
	e := newExecutor(runner, &rec)
	ctx := context.Background()

	outcome, err := e.Execute(ctx, decimal.NewFromInt(-550), decimal.NewFromInt(10000))
	require.NoError(t, err)
	assert.Equal(t, OutcomeClosed, outcome)

	outcome, err = e.Execute(ctx, decimal.NewFromInt(-560), decimal.NewFromInt(10000))
	require.NoError(t, err)
	assert.Equal(t, OutcomeNothingToClose, outcome)

	assert.Equal(t, 2, runner.calls)
	assert.Equal(t, []string{
		"KILL SWITCH ACTIVATED", "Kill Switch Success",
		"KILL SWITCH ACTIVATED", "Kill Switch Success",
	}, rec.Titles())
}

func TestExecuteActivationMessage(t *testing.T) {
	var rec notify.Recorder
	e := newExecutor(&fakeRunner{results: []Result{{}}}, &rec)

	_, err := e.Execute(context.Background(), decimal.RequireFromString("-550"), decimal.NewFromInt(10000))
	require.NoError(t, err)

	msgs := rec.Messages()
	require.NotEmpty(t, msgs)
	assert.Contains(t, msgs[0].Body, "$-550.00 <= $-500.00")
	assert.Contains(t, msgs[0].Body, "Account Balance: $10000.00")
	assert.Contains(t, msgs[0].Body, "P/L%: -5.50%")
	assert.True(t, msgs[0].Sound)
}

func TestExecuteFailureNotifies(t *testing.T) {
	var rec notify.Recorder
	e := newExecutor(&fakeRunner{results: []Result{{Output: "boom", ExitCode: 3}}}, &rec)

	outcome, err := e.Execute(context.Background(), decimal.NewFromInt(-600), decimal.Zero)
	assert.Equal(t, OutcomeFailed, outcome)
	var ke *KillError
	require.True(t, errors.As(err, &ke))
	assert.Equal(t, 3, ke.ExitCode)
	assert.Equal(t, []string{"KILL SWITCH ACTIVATED", "Kill Switch Error"}, rec.Titles())
}

func TestExecuteWithoutCommand(t *testing.T) {
	e := New(Config{}, threshold, &fakeRunner{results: []Result{{}}}, nil, zap.NewNop())
	outcome, err := e.Execute(context.Background(), decimal.NewFromInt(-600), decimal.Zero)
	assert.Equal(t, OutcomeFailed, outcome)
	assert.Error(t, err)
}

func TestExecRunner(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX shell")
	}
	ctx := context.Background()

	r := ExecRunner{}.Run(ctx, "sh", "-c", "echo Successfully closed")
	require.NoError(t, r.Err)
	assert.Equal(t, 0, r.ExitCode)
	assert.Contains(t, r.Output, "Successfully")

	r = ExecRunner{}.Run(ctx, "sh", "-c", "echo nope >&2; exit 4")
	require.NoError(t, r.Err)
	assert.Equal(t, 4, r.ExitCode)
	assert.Contains(t, r.Output, "nope")

	r = ExecRunner{}.Run(ctx, "/definitely/not/a/command")
	assert.Error(t, r.Err)

	tctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	r = ExecRunner{}.Run(tctx, "sleep", "5")
	assert.ErrorIs(t, r.Err, context.DeadlineExceeded)
}

// orderNotifier records how many kill commands had run when each
// notification arrived.
type orderNotifier struct {
	runner *fakeRunner
	seen   []int
}

func (o *orderNotifier) Notify(_ context.Context, _ notify.Message) {
	o.seen = append(o.seen, o.runner.calls)
}

func TestExecuteRunsCommandBeforeNotifying(t *testing.T) {
	runner := &fakeRunner{results: []Result{{Output: "Webull Successfully terminated"}}}
	n := &orderNotifier{runner: runner}
	e := newExecutor(runner, n)

	_, err := e.Execute(context.Background(), decimal.NewFromInt(-600), decimal.Zero)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 1}, n.seen)
}
