package mad

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/telephis/telephis/internal/model"
	"github.com/telephis/telephis/pkg/llm"
)

// Debate coordinates a roster of agents across bounded rounds.
//
// Round 1 is independent analysis. Later rounds are deliberation: each
// agent sees the previous round and may revise its stance. The debate
// stops on consensus, on the round limit, or on the wall-clock budget,
// and the final round is aggregated into the verdict.
type Debate struct {
	gateway llm.Gateway
	roster  *Roster

	maxRounds        int
	earlyTermination bool
	maxTotalTime     time.Duration
	serialize        bool
}

// Option configures a Debate.
type Option func(*Debate)

// WithMaxRounds bounds the number of debate rounds.
func WithMaxRounds(n int) Option {
	return func(d *Debate) {
		if n >= 1 {
			d.maxRounds = n
		}
	}
}

// WithEarlyTermination stops the debate as soon as a round reaches
// consensus.
func WithEarlyTermination(enabled bool) Option {
	return func(d *Debate) {
		d.earlyTermination = enabled
	}
}

// WithMaxTotalTime bounds the debate's wall-clock time. Zero disables
// the budget. The check runs between rounds; an in-flight round is
// never interrupted.
func WithMaxTotalTime(budget time.Duration) Option {
	return func(d *Debate) {
		d.maxTotalTime = budget
	}
}

// WithSerializedAgents runs agents one at a time instead of in
// parallel. Useful against strict provider rate limits.
func WithSerializedAgents(enabled bool) Option {
	return func(d *Debate) {
		d.serialize = enabled
	}
}

// New creates a debate over the given roster.
func New(gateway llm.Gateway, roster *Roster, opts ...Option) *Debate {
	d := &Debate{
		gateway:          gateway,
		roster:           roster,
		maxRounds:        2,
		earlyTermination: true,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Run executes the full debate and returns the aggregated record.
func (d *Debate) Run(ctx context.Context, in Input) *model.DebateRecord {
	start := time.Now()
	stopReason := model.StopMaxRounds
	var consensusRound *int

	first := d.runAnalysisRound(ctx, in)
	rounds := []model.DebateRound{{Number: 1, Responses: first}}

	if d.maxRounds <= 1 && d.earlyTermination {
		if ok, _, _ := d.roster.CheckConsensus(first); ok && hasLiveResponses(first) {
			stopReason = model.StopConsensus
		}
	}

	previous := first
	for number := 2; number <= d.maxRounds; number++ {
		if ctx.Err() != nil || d.expired(start) {
			stopReason = model.StopTimeout
			break
		}
		// A round where every agent fell back carries no real stances,
		// so it cannot end the debate early.
		if d.earlyTermination && hasLiveResponses(previous) {
			if ok, stance, conf := d.roster.CheckConsensus(previous); ok {
				zap.L().Debug("debate consensus reached",
					zap.Int("round", number-1),
					zap.String("stance", string(stance)),
					zap.Float64("confidence", conf))
				stopReason = model.StopConsensus
				agreed := number - 1
				consensusRound = &agreed
				break
			}
		}

		next := d.runDeliberationRound(ctx, in, previous, number)
		rounds = append(rounds, model.DebateRound{Number: number, Responses: next})
		previous = next
	}

	// The loop only inspects completed rounds before starting the next
	// one, so consensus reached in the final round is recorded here.
	if consensusRound == nil && hasLiveResponses(previous) {
		if ok, _, _ := d.roster.CheckConsensus(previous); ok {
			agreed := rounds[len(rounds)-1].Number
			consensusRound = &agreed
		}
	}

	record := d.roster.Aggregate(rounds)
	record.StopReason = stopReason
	record.ConsensusRound = consensusRound
	record.DurationMS = time.Since(start).Milliseconds()

	zap.L().Info("debate complete",
		zap.String("decision", string(record.Decision)),
		zap.Float64("confidence", record.Confidence),
		zap.Int("rounds", record.RoundsUsed),
		zap.String("stop_reason", string(stopReason)),
		zap.Int("tokens", record.Usage.Total()))

	return record
}

func (d *Debate) expired(start time.Time) bool {
	return d.maxTotalTime > 0 && time.Since(start) >= d.maxTotalTime
}

// hasLiveResponses reports whether at least one response in the round
// came from a model rather than a fallback placeholder. Unanimity among
// synthesized placeholders is not agreement.
func hasLiveResponses(responses []model.AgentResponse) bool {
	for _, r := range responses {
		if !r.Fallback {
			return true
		}
	}
	return false
}

// runAnalysisRound collects each agent's independent stance. Agent
// failures surface as neutral fallback responses, never as errors.
func (d *Debate) runAnalysisRound(ctx context.Context, in Input) []model.AgentResponse {
	agents := d.roster.Agents
	responses := make([]model.AgentResponse, len(agents))

	run := func(i int) {
		responses[i] = agents[i].Analyze(ctx, d.gateway, in, d.roster.AnalyzeTemperature, d.roster.MaxTokens)
		responses[i].Round = 1
	}

	if d.serialize {
		for i := range agents {
			run(i)
		}
		return responses
	}

	g, _ := errgroup.WithContext(ctx)
	for i := range agents {
		g.Go(func() error {
			run(i)
			return nil
		})
	}
	g.Wait()
	return responses
}

// runDeliberationRound lets each agent revise its stance against the
// previous round. An agent absent from the previous round keeps a
// neutral placeholder so the panel size is stable.
func (d *Debate) runDeliberationRound(ctx context.Context, in Input, previous []model.AgentResponse, number int) []model.AgentResponse {
	byAgent := make(map[string]model.AgentResponse, len(previous))
	for _, r := range previous {
		byAgent[r.Agent] = r
	}

	agents := d.roster.Agents
	responses := make([]model.AgentResponse, len(agents))

	run := func(i int) {
		agent := agents[i]
		own, ok := byAgent[agent.Name]
		if !ok {
			responses[i] = model.AgentResponse{
				Agent:      agent.Name,
				Stance:     model.StanceSuspicious,
				Confidence: 0.5,
				Arguments:  []string{"No prior round response available."},
				Round:      number,
				Fallback:   true,
			}
			return
		}
		others := make([]model.AgentResponse, 0, len(previous)-1)
		for _, r := range previous {
			if r.Agent != agent.Name {
				others = append(others, r)
			}
		}
		responses[i] = agent.Deliberate(ctx, d.gateway, in, own, others, d.roster.DeliberateTemperature, d.roster.MaxTokens)
		responses[i].Round = number
	}

	if d.serialize {
		for i := range agents {
			run(i)
		}
		return responses
	}

	g, _ := errgroup.WithContext(ctx)
	for i := range agents {
		g.Go(func() error {
			run(i)
			return nil
		})
	}
	g.Wait()
	return responses
}
