package mad

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telephis/telephis/internal/model"
)

func debateRoster() *Roster {
	r := testRoster()
	r.Agents = []Agent{
		testAgent("a", "sys-a"),
		testAgent("b", "sys-b"),
		testAgent("c", "sys-c"),
	}
	return r
}

func TestRunConsensusAfterFirstRound(t *testing.T) {
	gw := newScriptGateway(t)
	gw.on("sys-a", stanceResp("PHISHING", 0.9))
	gw.on("sys-b", stanceResp("PHISHING", 0.85))
	gw.on("sys-c", stanceResp("PHISHING", 0.8))

	d := New(gw, debateRoster(), WithMaxRounds(2))
	rec := d.Run(context.Background(), testInput())

	assert.Equal(t, model.StopConsensus, rec.StopReason)
	assert.Equal(t, 1, rec.RoundsUsed)
	assert.Equal(t, model.StancePhishing, rec.Decision)
	assert.True(t, rec.Consensus)
	require.NotNil(t, rec.ConsensusRound)
	assert.Equal(t, 1, *rec.ConsensusRound)
}

func TestRunDeliberationWhenSplit(t *testing.T) {
	gw := newScriptGateway(t)
	// Round 1: split panel.
	gw.on("sys-a", stanceResp("PHISHING", 0.8), stanceResp("PHISHING", 0.9))
	gw.on("sys-b", stanceResp("LEGITIMATE", 0.8), stanceResp("PHISHING", 0.85))
	gw.on("sys-c", stanceResp("SUSPICIOUS", 0.6), stanceResp("PHISHING", 0.8))

	d := New(gw, debateRoster(), WithMaxRounds(2))
	rec := d.Run(context.Background(), testInput())

	assert.Equal(t, model.StopMaxRounds, rec.StopReason)
	assert.Equal(t, 2, rec.RoundsUsed)
	assert.Equal(t, model.StancePhishing, rec.Decision)
	require.Len(t, rec.Rounds, 2)
	assert.Equal(t, 2, rec.Rounds[1].Responses[0].Round)
	// The panel converged in the final round, after the last early check.
	require.NotNil(t, rec.ConsensusRound)
	assert.Equal(t, 2, *rec.ConsensusRound)
	// 6 calls at 150 tokens each
	assert.Equal(t, 900, rec.Usage.Total())
}

func TestRunEarlyTerminationDisabledRunsAllRounds(t *testing.T) {
	gw := newScriptGateway(t)
	gw.on("sys-a", stanceResp("PHISHING", 0.9), stanceResp("PHISHING", 0.9))
	gw.on("sys-b", stanceResp("PHISHING", 0.9), stanceResp("PHISHING", 0.9))
	gw.on("sys-c", stanceResp("PHISHING", 0.9), stanceResp("PHISHING", 0.9))

	d := New(gw, debateRoster(), WithMaxRounds(2), WithEarlyTermination(false))
	rec := d.Run(context.Background(), testInput())

	assert.Equal(t, model.StopMaxRounds, rec.StopReason)
	assert.Equal(t, 2, rec.RoundsUsed)
}

func TestRunSingleRoundConsensusStopReason(t *testing.T) {
	gw := newScriptGateway(t)
	gw.on("sys-a", stanceResp("LEGITIMATE", 0.9))
	gw.on("sys-b", stanceResp("LEGITIMATE", 0.9))
	gw.on("sys-c", stanceResp("LEGITIMATE", 0.9))

	d := New(gw, debateRoster(), WithMaxRounds(1))
	rec := d.Run(context.Background(), testInput())

	assert.Equal(t, model.StopConsensus, rec.StopReason)
	assert.Equal(t, model.StanceLegitimate, rec.Decision)
	assert.Equal(t, 1, rec.RoundsUsed)
	require.NotNil(t, rec.ConsensusRound)
	assert.Equal(t, 1, *rec.ConsensusRound)
}

func TestRunTimeBudgetStopsBetweenRounds(t *testing.T) {
	gw := newScriptGateway(t)
	gw.on("sys-a", stanceResp("PHISHING", 0.8))
	gw.on("sys-b", stanceResp("LEGITIMATE", 0.8))
	gw.on("sys-c", stanceResp("SUSPICIOUS", 0.6))

	d := New(gw, debateRoster(), WithMaxRounds(3), WithMaxTotalTime(time.Nanosecond))
	rec := d.Run(context.Background(), testInput())

	assert.Equal(t, model.StopTimeout, rec.StopReason)
	assert.Equal(t, 1, rec.RoundsUsed, "the in-flight round still completes")
	assert.Nil(t, rec.ConsensusRound, "a split panel never records a consensus round")
}

func TestRunCancelledContextStops(t *testing.T) {
	gw := newScriptGateway(t)
	gw.on("sys-a", stanceResp("PHISHING", 0.8))
	gw.on("sys-b", stanceResp("LEGITIMATE", 0.8))
	gw.on("sys-c", stanceResp("SUSPICIOUS", 0.6))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := New(gw, debateRoster(), WithMaxRounds(3), WithSerializedAgents(true))
	record := d.Run(ctx, testInput())

	assert.Equal(t, model.StopTimeout, record.StopReason)
	assert.Equal(t, 1, record.RoundsUsed)
}

func TestRunSerializedAgentsDeterministicOrder(t *testing.T) {
	gw := newScriptGateway(t)
	gw.on("sys-a", stanceResp("PHISHING", 0.9))
	gw.on("sys-b", stanceResp("PHISHING", 0.9))
	gw.on("sys-c", stanceResp("PHISHING", 0.9))

	d := New(gw, debateRoster(), WithMaxRounds(1), WithSerializedAgents(true))
	rec := d.Run(context.Background(), testInput())

	require.Len(t, rec.Rounds, 1)
	responses := rec.Rounds[0].Responses
	require.Len(t, responses, 3)
	assert.Equal(t, "a", responses[0].Agent)
	assert.Equal(t, "b", responses[1].Agent)
	assert.Equal(t, "c", responses[2].Agent)
}

func TestRunDeliberationFailureKeepsRoundOneStance(t *testing.T) {
	gw := newScriptGateway(t)
	gw.on("sys-a", stanceResp("PHISHING", 0.85), scriptStep{err: assert.AnError})
	gw.on("sys-b", stanceResp("LEGITIMATE", 0.8), stanceResp("LEGITIMATE", 0.85))
	gw.on("sys-c", stanceResp("SUSPICIOUS", 0.6), stanceResp("LEGITIMATE", 0.7))

	d := New(gw, debateRoster(), WithMaxRounds(2), WithSerializedAgents(true))
	rec := d.Run(context.Background(), testInput())

	require.Len(t, rec.Rounds, 2)
	final := rec.Rounds[1].Responses
	assert.Equal(t, model.StancePhishing, final[0].Stance, "agent a keeps its round-1 stance")
	assert.Equal(t, 0.85, final[0].Confidence)
	assert.Equal(t, model.StanceLegitimate, final[1].Stance)
}

func TestRunAllAgentsFailedRoundDoesNotEndDebate(t *testing.T) {
	// Round 1 fails across the panel, leaving three identical fallback
	// stances. That unanimity must not count as consensus; the debate
	// continues into round 2 where the agents recover.
	gw := newScriptGateway(t)
	gw.on("sys-a", scriptStep{err: assert.AnError}, stanceResp("PHISHING", 0.8))
	gw.on("sys-b", scriptStep{err: assert.AnError}, stanceResp("LEGITIMATE", 0.8))
	gw.on("sys-c", scriptStep{err: assert.AnError}, stanceResp("SUSPICIOUS", 0.6))

	d := New(gw, debateRoster(), WithMaxRounds(2), WithSerializedAgents(true))
	rec := d.Run(context.Background(), testInput())

	assert.Equal(t, model.StopMaxRounds, rec.StopReason)
	assert.Equal(t, 2, rec.RoundsUsed)
	require.Len(t, rec.Rounds, 2)
	for _, r := range rec.Rounds[0].Responses {
		assert.True(t, r.Fallback)
	}
	assert.Equal(t, model.StancePhishing, rec.Rounds[1].Responses[0].Stance)
	assert.Nil(t, rec.ConsensusRound)
}
