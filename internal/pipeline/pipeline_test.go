package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c29m/webhttp/internal/faults"
	"github.com/c29m/webhttp/internal/processor"
)

// identity returns a processor passing each input through unchanged.
func identity(t *testing.T, name string, args ...string) *processor.Func {
	t.Helper()
	var in, out []*processor.Argument
	for _, a := range args {
		in = append(in, processor.ArgumentOf[any](a))
		out = append(out, processor.ArgumentOf[any](a))
	}
	p, err := processor.NewFunc(name, in, out, func(_ context.Context, values []any) ([]any, error) {
		return values, nil
	})
	require.NoError(t, err)
	return p
}

func stringFunc(t *testing.T, name string, fn func(string) string) *processor.Func {
	t.Helper()
	p, err := processor.NewFunc(name,
		[]*processor.Argument{processor.ArgumentOf[string]("in")},
		[]*processor.Argument{processor.ArgumentOf[string]("out")},
		func(_ context.Context, values []any) ([]any, error) {
			return []any{fn(values[0].(string))}, nil
		})
	require.NoError(t, err)
	return p
}

func TestExecute_IdentityChainReturnsInputs(t *testing.T) {
	first := identity(t, "first", "a", "b")
	second := identity(t, "second", "a", "b")

	p, err := New([]processor.Processor{first, second},
		[]*processor.Argument{processor.ArgumentOf[any]("a"), processor.ArgumentOf[any]("b")},
		[]*processor.Argument{processor.ArgumentOf[any]("a"), processor.ArgumentOf[any]("b")})
	require.NoError(t, err)

	for i, name := range []string{"a", "b"} {
		require.NoError(t, p.BindArgumentToPipelineInput(name, first.InArguments().At(i)))
		require.NoError(t, p.BindArguments(first.OutArguments().At(i), second.InArguments().At(i)))
		require.NoError(t, p.BindArgumentToPipelineOutput(second.OutArguments().At(i), name))
	}
	require.NoError(t, p.Initialize())

	inputs := []any{42, "forty-two"}
	res, err := p.Execute(context.Background(), inputs)
	require.NoError(t, err)
	assert.Equal(t, inputs, res.Output)

	v, ok := res.Value("b")
	require.True(t, ok)
	assert.Equal(t, "forty-two", v)
	_, ok = res.Value("c")
	assert.False(t, ok)
}

func TestExecute_FanOut(t *testing.T) {
	upper := stringFunc(t, "upper", strings.ToUpper)
	lower := stringFunc(t, "lower", strings.ToLower)
	join, err := processor.NewFunc("join",
		[]*processor.Argument{processor.ArgumentOf[string]("x"), processor.ArgumentOf[string]("y")},
		[]*processor.Argument{processor.ArgumentOf[string]("joined")},
		func(_ context.Context, v []any) ([]any, error) {
			return []any{v[0].(string) + "/" + v[1].(string)}, nil
		})
	require.NoError(t, err)

	p, err := New([]processor.Processor{upper, lower, join},
		[]*processor.Argument{processor.ArgumentOf[string]("text")},
		[]*processor.Argument{processor.ArgumentOf[string]("result"), processor.ArgumentOf[string]("raw")})
	require.NoError(t, err)

	require.NoError(t, p.BindArgumentToPipelineInput("text", upper.InArguments().At(0)))
	require.NoError(t, p.BindArgumentToPipelineInput("text", lower.InArguments().At(0)))
	require.NoError(t, p.BindArguments(upper.OutArguments().At(0), join.InArguments().At(0)))
	require.NoError(t, p.BindArguments(lower.OutArguments().At(0), join.InArguments().At(1)))
	require.NoError(t, p.BindArgumentToPipelineOutput(join.OutArguments().At(0), "result"))
	require.NoError(t, p.BindPipelineInputToOutput("text", "raw"))
	require.NoError(t, p.Initialize())

	res, err := p.Execute(context.Background(), []any{"MiXed"})
	require.NoError(t, err)
	assert.Equal(t, []any{"MIXED/mixed", "MiXed"}, res.Output)
	assert.Len(t, p.Bindings(), 6)
}

func TestInitialize_UnboundInputFails(t *testing.T) {
	upper := stringFunc(t, "upper", strings.ToUpper)
	p, err := New([]processor.Processor{upper},
		[]*processor.Argument{processor.ArgumentOf[string]("text")},
		[]*processor.Argument{processor.ArgumentOf[string]("out")})
	require.NoError(t, err)
	require.NoError(t, p.BindArgumentToPipelineOutput(upper.OutArguments().At(0), "out"))

	err = p.Initialize()
	require.Error(t, err)
	assert.True(t, IsPipelineInvalid(err))
	assert.True(t, faults.HasCode(err, CodeUnboundInput))
	assert.False(t, p.Initialized())
	assert.False(t, upper.Initialized(), "processors stay mutable when validation fails")

	_, err = p.Execute(context.Background(), []any{"x"})
	assert.True(t, faults.HasCode(err, CodeNotInitialized))
}

func TestInitialize_ReportsEveryProblem(t *testing.T) {
	a := stringFunc(t, "a", strings.ToUpper)
	b := stringFunc(t, "b", strings.ToUpper)
	p, err := New([]processor.Processor{a, b}, nil,
		[]*processor.Argument{processor.ArgumentOf[string]("out")})
	require.NoError(t, err)

	err = p.Initialize()
	require.Error(t, err)
	assert.True(t, faults.HasCode(err, CodeUnboundInput))
	assert.True(t, faults.HasCode(err, CodeUnboundOutput))
	assert.Contains(t, err.Error(), `input "in" of processor 0 (a)`)
	assert.Contains(t, err.Error(), `input "in" of processor 1 (b)`)
}

func TestInitialize_RejectsBackwardEdgeSet(t *testing.T) {
	a := stringFunc(t, "a", strings.ToUpper)
	b := stringFunc(t, "b", strings.ToLower)
	p, err := New([]processor.Processor{a, b},
		[]*processor.Argument{processor.ArgumentOf[string]("text")},
		[]*processor.Argument{processor.ArgumentOf[string]("out")})
	require.NoError(t, err)
	require.NoError(t, p.BindArgumentToPipelineInput("text", a.InArguments().At(0)))
	require.NoError(t, p.BindArguments(a.OutArguments().At(0), b.InArguments().At(0)))
	require.NoError(t, p.BindArgumentToPipelineOutput(b.OutArguments().At(0), "out"))

	p.edges = append(p.edges, edge{from: 2, fromArg: 0, to: 1, toArg: 0})

	err = p.Initialize()
	require.Error(t, err)
	assert.True(t, IsPipelineInvalid(err))
	assert.True(t, faults.HasCode(err, CodeOrderingViolated))
	assert.True(t, faults.HasCode(err, CodeCycle))
	assert.False(t, p.Initialized())
}

func TestBind_Preconditions(t *testing.T) {
	upper := stringFunc(t, "upper", strings.ToUpper)
	lower := stringFunc(t, "lower", strings.ToLower)
	stranger := stringFunc(t, "stranger", strings.TrimSpace)
	counter, err := processor.NewFunc("counter",
		[]*processor.Argument{processor.ArgumentOf[int]("n")}, nil,
		func(context.Context, []any) ([]any, error) { return nil, nil })
	require.NoError(t, err)

	p, err := New([]processor.Processor{upper, lower, counter},
		[]*processor.Argument{processor.ArgumentOf[string]("text")},
		[]*processor.Argument{processor.ArgumentOf[string]("out")})
	require.NoError(t, err)

	tests := []struct {
		name string
		bind func() error
		code faults.Code
		kind faults.Kind
	}{
		{
			name: "unknown pipeline input",
			bind: func() error { return p.BindArgumentToPipelineInput("nope", upper.InArguments().At(0)) },
			code: CodeUnknownArgument,
			kind: faults.KindConfiguration,
		},
		{
			name: "unknown pipeline output",
			bind: func() error { return p.BindArgumentToPipelineOutput(upper.OutArguments().At(0), "nope") },
			code: CodeUnknownArgument,
			kind: faults.KindConfiguration,
		},
		{
			name: "processor not in collection",
			bind: func() error { return p.BindArgumentToPipelineInput("text", stranger.InArguments().At(0)) },
			code: CodeNotInCollection,
			kind: faults.KindConfiguration,
		},
		{
			name: "type mismatch",
			bind: func() error { return p.BindArgumentToPipelineInput("text", counter.InArguments().At(0)) },
			code: CodeTypeMismatch,
			kind: faults.KindConfiguration,
		},
		{
			name: "ordering violated",
			bind: func() error { return p.BindArguments(lower.OutArguments().At(0), upper.InArguments().At(0)) },
			code: CodeOrderingViolated,
			kind: faults.KindConfiguration,
		},
		{
			name: "self reference",
			bind: func() error { return p.BindArguments(upper.OutArguments().At(0), upper.InArguments().At(0)) },
			code: CodeOrderingViolated,
			kind: faults.KindConfiguration,
		},
		{
			name: "wrong direction",
			bind: func() error { return p.BindArguments(upper.InArguments().At(0), lower.InArguments().At(0)) },
			code: CodeWrongDirection,
			kind: faults.KindConfiguration,
		},
		{
			name: "nil argument",
			bind: func() error { return p.BindArgumentToPipelineInput("text", nil) },
			code: faults.CodeArgumentNull,
			kind: faults.KindArgumentNull,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.bind()
			require.Error(t, err)
			assert.True(t, faults.HasCode(err, tc.code), "got %v", err)
			assert.Equal(t, tc.kind, faults.KindOf(err))
		})
	}

	t.Run("already bound", func(t *testing.T) {
		require.NoError(t, p.BindArgumentToPipelineInput("text", upper.InArguments().At(0)))
		err := p.BindArgumentToPipelineInput("text", upper.InArguments().At(0))
		assert.True(t, faults.HasCode(err, CodeAlreadyBound))
	})
}

func TestUnbindArgument(t *testing.T) {
	upper := stringFunc(t, "upper", strings.ToUpper)
	p, err := New([]processor.Processor{upper},
		[]*processor.Argument{processor.ArgumentOf[string]("a"), processor.ArgumentOf[string]("b")},
		[]*processor.Argument{processor.ArgumentOf[string]("out")})
	require.NoError(t, err)

	in := upper.InArguments().At(0)
	require.NoError(t, p.BindArgumentToPipelineInput("a", in))
	require.NoError(t, p.UnbindArgument(in))
	assert.True(t, faults.HasCode(p.UnbindArgument(in), CodeNotBound))

	require.NoError(t, p.BindArgumentToPipelineInput("b", in))
	require.NoError(t, p.BindArgumentToPipelineOutput(upper.OutArguments().At(0), "out"))
	require.NoError(t, p.Initialize())

	res, err := p.Execute(context.Background(), []any{"ignored", "used"})
	require.NoError(t, err)
	assert.Equal(t, []any{"USED"}, res.Output)

	assert.True(t, faults.HasCode(p.UnbindArgument(in), CodeAlreadyInitialized))
	assert.True(t, faults.HasCode(p.BindArgumentToPipelineInput("a", in), CodeAlreadyInitialized))
}

func TestNew_ProcessorReusedAcrossPipelines(t *testing.T) {
	upper := stringFunc(t, "upper", strings.ToUpper)
	_, err := New([]processor.Processor{upper}, nil, nil)
	require.NoError(t, err)

	_, err = New([]processor.Processor{upper}, nil, nil)
	require.Error(t, err)
	assert.True(t, faults.HasCode(err, processor.CodeProcessorOwned))
}

func TestNew_FailureLeavesProcessorsUnclaimed(t *testing.T) {
	a := stringFunc(t, "a", strings.ToUpper)
	b := stringFunc(t, "b", strings.ToLower)
	_, err := New([]processor.Processor{b}, nil, nil)
	require.NoError(t, err)

	_, err = New([]processor.Processor{a, b}, nil, nil)
	require.Error(t, err)
	assert.True(t, faults.HasCode(err, processor.CodeProcessorOwned))

	p, err := New([]processor.Processor{a}, nil, nil)
	require.NoError(t, err, "a must not stay claimed by the failed pipeline")
	assert.Equal(t, 0, p.Processors().IndexOf(a))
}

func TestNew_BadArgumentsReleaseEverything(t *testing.T) {
	a := stringFunc(t, "a", strings.ToUpper)
	in := processor.ArgumentOf[string]("in")
	dup := []*processor.Argument{processor.ArgumentOf[int]("x"), processor.ArgumentOf[int]("x")}

	_, err := New([]processor.Processor{a}, []*processor.Argument{in}, dup)
	require.Error(t, err)
	assert.True(t, faults.HasCode(err, processor.CodeDuplicateArgument))
	assert.Nil(t, in.Collection())
	assert.Nil(t, dup[0].Collection())

	_, err = New([]processor.Processor{a}, []*processor.Argument{in}, dup[:1])
	require.NoError(t, err)
}

func TestNew_ProcessorListedTwice(t *testing.T) {
	a := stringFunc(t, "a", strings.ToUpper)
	_, err := New([]processor.Processor{a, a}, nil, nil)
	require.Error(t, err)

	_, err = New([]processor.Processor{a}, nil, nil)
	require.NoError(t, err)
}

func TestNew_DuplicatePipelineArguments(t *testing.T) {
	_, err := New(nil,
		[]*processor.Argument{processor.ArgumentOf[int]("x"), processor.ArgumentOf[int]("x")}, nil)
	require.Error(t, err)
	assert.True(t, faults.HasCode(err, processor.CodeDuplicateArgument))
}

func TestInitialize_IsIdempotentAndFreezes(t *testing.T) {
	upper := stringFunc(t, "upper", strings.ToUpper)
	p, err := New([]processor.Processor{upper},
		[]*processor.Argument{processor.ArgumentOf[string]("text")},
		[]*processor.Argument{processor.ArgumentOf[string]("out")},
		WithName("upper-pipeline"))
	require.NoError(t, err)
	require.NoError(t, p.BindArgumentToPipelineInput("text", upper.InArguments().At(0)))
	require.NoError(t, p.BindArgumentToPipelineOutput(upper.OutArguments().At(0), "out"))

	require.NoError(t, p.Initialize())
	require.NoError(t, p.Initialize())
	assert.Equal(t, "upper-pipeline", p.Name())
	assert.True(t, upper.Initialized())
	assert.True(t, p.InputArguments().Frozen())
	assert.True(t, p.OutputArguments().Frozen())
}

type rawProcessor struct {
	*processor.Base
	result *processor.Result
}

func (r *rawProcessor) Execute(context.Context, []any) *processor.Result {
	return r.result
}

func newRaw(t *testing.T, result *processor.Result) *rawProcessor {
	t.Helper()
	b := processor.NewBase("raw")
	require.NoError(t, b.DeclareOut(processor.ArgumentOf[string]("out")))
	return &rawProcessor{Base: b, result: result}
}

func singleOutputPipeline(t *testing.T, proc processor.Processor) *Pipeline {
	t.Helper()
	p, err := New([]processor.Processor{proc}, nil,
		[]*processor.Argument{processor.ArgumentOf[string]("out")})
	require.NoError(t, err)
	require.NoError(t, p.BindArgumentToPipelineOutput(proc.OutArguments().At(0), "out"))
	require.NoError(t, p.Initialize())
	return p
}

func TestExecute_ContractViolations(t *testing.T) {
	tests := []struct {
		name   string
		result *processor.Result
	}{
		{name: "nil result", result: nil},
		{name: "too many values", result: processor.Ok("a", "b")},
		{name: "no values", result: processor.Ok()},
		{name: "wrong type", result: processor.Ok(42)},
		{name: "failure without error", result: &processor.Result{Status: processor.StatusError}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := singleOutputPipeline(t, newRaw(t, tc.result))
			_, err := p.Execute(context.Background(), nil)
			require.Error(t, err)
			assert.True(t, IsContractViolation(err), "got %v", err)
			assert.True(t, faults.HasCode(err, CodeProcessorContract))
		})
	}
}

func TestExecute_ArgumentCount(t *testing.T) {
	p := singleOutputPipeline(t, newRaw(t, processor.Ok("x")))
	_, err := p.Execute(context.Background(), []any{"unexpected"})
	require.Error(t, err)
	assert.True(t, faults.HasCode(err, CodeArgumentCount))
	assert.True(t, IsContractViolation(err))
}

func TestExecute_ProcessorFailure(t *testing.T) {
	boom := errors.New("boom")
	p := singleOutputPipeline(t, newRaw(t, processor.Fail(boom)))
	_, err := p.Execute(context.Background(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, faults.KindProcessing, faults.KindOf(err))

	typed := faults.BadRequest("BAD_VALUE", "bad value")
	p = singleOutputPipeline(t, newRaw(t, processor.Fail(typed)))
	_, err = p.Execute(context.Background(), nil)
	assert.Equal(t, faults.KindBadRequest, faults.KindOf(err))
}

func TestExecute_ConcurrentCallsAreIsolated(t *testing.T) {
	suffix := stringFunc(t, "suffix", func(s string) string { return s + "!" })
	double := stringFunc(t, "double", func(s string) string { return s + s })
	p, err := New([]processor.Processor{suffix, double},
		[]*processor.Argument{processor.ArgumentOf[string]("text")},
		[]*processor.Argument{processor.ArgumentOf[string]("out")})
	require.NoError(t, err)
	require.NoError(t, p.BindArgumentToPipelineInput("text", suffix.InArguments().At(0)))
	require.NoError(t, p.BindArguments(suffix.OutArguments().At(0), double.InArguments().At(0)))
	require.NoError(t, p.BindArgumentToPipelineOutput(double.OutArguments().At(0), "out"))
	require.NoError(t, p.Initialize())

	var wg sync.WaitGroup
	errs := make(chan error, 64)
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			in := fmt.Sprintf("v%d", i)
			res, err := p.Execute(context.Background(), []any{in})
			if err != nil {
				errs <- err
				return
			}
			if want := in + "!" + in + "!"; res.Output[0] != want {
				errs <- fmt.Errorf("got %v, want %s", res.Output[0], want)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}
