package log

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type captureHandler struct {
	mu      sync.Mutex
	records []*Record
}

func (c *captureHandler) Log(r *Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, r)
	return nil
}

func TestChildInheritsContext(t *testing.T) {
	cap := &captureHandler{}
	root := &logger{h: cap}
	child := root.New("component", "breakpoint")
	child.Info("resolved", "id", 4)

	require.Len(t, cap.records, 1)
	require.Equal(t, []interface{}{"component", "breakpoint", "id", 4}, cap.records[0].Ctx)
}

func TestOddContextIsNormalized(t *testing.T) {
	cap := &captureHandler{}
	l := &logger{h: cap}
	l.Info("msg", "onlykey")
	require.Len(t, cap.records, 1)
	require.Len(t, cap.records[0].Ctx, 4)
}

func TestLvlFilterHandlerDropsMoreVerboseThanMax(t *testing.T) {
	cap := &captureHandler{}
	l := &logger{h: LvlFilterHandler(LvlInfo, cap)}
	l.Debug("too verbose")
	l.Info("kept")
	l.Error("kept too")

	require.Len(t, cap.records, 2)
	require.Equal(t, "kept", cap.records[0].Msg)
	require.Equal(t, "kept too", cap.records[1].Msg)
}
