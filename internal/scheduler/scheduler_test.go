package scheduler

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitializeRunsJobs(t *testing.T) {
	var runs atomic.Int32

	require.NoError(t, Initialize(Job{
		Name:  "count",
		Every: 20 * time.Millisecond,
		Run:   func() { runs.Add(1) },
	}))
	defer Stop()

	assert.Eventually(t, func() bool {
		return runs.Load() >= 2
	}, 2*time.Second, 10*time.Millisecond)
}
