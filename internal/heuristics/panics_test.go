package heuristics

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rawblock/mule-forensics/pkg/models"
)

func panicOf(fn func()) (r any) {
	defer func() { r = recover() }()
	fn()
	return nil
}

func TestEachNode_AttributesPanicToAccount(t *testing.T) {
	g := mustGraph(t, []models.Transaction{
		transfer("A", "B", 100, t0),
		transfer("B", "C", 100, t0.Add(timeStep(1))),
	})
	boom := errors.New("boom")

	var visited []string
	r := panicOf(func() {
		eachNode(g, func(i int) {
			visited = append(visited, g.ID(i))
			if g.ID(i) == "B" {
				panic(boom)
			}
		})
	})

	require.IsType(t, AccountPanic{}, r)
	ap := r.(AccountPanic)
	assert.Equal(t, "B", ap.AccountID)
	assert.Equal(t, boom, ap.Value)
	assert.Equal(t, []string{"A", "B"}, visited, "stops at the failing node")
	assert.Equal(t, "account B: boom", ap.String())
}

func TestForNode_InnermostAccountWins(t *testing.T) {
	g := mustGraph(t, []models.Transaction{transfer("A", "B", 100, t0)})
	a, _ := g.Index("A")
	b, _ := g.Index("B")

	r := panicOf(func() {
		forNode(g, a, func(int) {
			forNode(g, b, func(int) { panic("deep") })
		})
	})

	require.IsType(t, AccountPanic{}, r)
	assert.Equal(t, "B", r.(AccountPanic).AccountID)
	assert.Equal(t, "deep", r.(AccountPanic).Value)
}

func TestEachNode_NoPanicVisitsAll(t *testing.T) {
	g := mustGraph(t, []models.Transaction{
		transfer("A", "B", 100, t0),
		transfer("C", "D", 100, t0),
	})
	n := 0
	assert.Nil(t, panicOf(func() { eachNode(g, func(int) { n++ }) }))
	assert.Equal(t, 4, n)
}
