package selector

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeDOM reports visibility for a fixed set of locator values and
// records the probe order.
type fakeDOM struct {
	visible map[string]bool
	errs    map[string]error
	probed  []string
}

func (d *fakeDOM) Visible(_ context.Context, loc Locator) (bool, error) {
	d.probed = append(d.probed, loc.Value)
	if err, ok := d.errs[loc.Value]; ok {
		return false, err
	}
	return d.visible[loc.Value], nil
}

func TestFirstVisibleStopsAtFirstMatch(t *testing.T) {
	t.Parallel()

	dom := &fakeDOM{visible: map[string]bool{"#second": true}}
	candidates := []Locator{CSS("#first"), CSS("#second"), CSS("#third")}

	got, ok := FirstVisible(context.Background(), dom, candidates, time.Second)
	require.True(t, ok)
	require.Equal(t, CSS("#second"), got)

	// Nothing after the match may be probed.
	require.Equal(t, []string{"#first", "#second"}, dom.probed)
}

func TestFirstVisibleExhaustionIsAValue(t *testing.T) {
	t.Parallel()

	dom := &fakeDOM{}
	candidates := []Locator{CSS("#a"), Text("My Permits"), XPath("//a[1]")}

	_, ok := FirstVisible(context.Background(), dom, candidates, time.Second)
	require.False(t, ok)
	require.Len(t, dom.probed, 3)
}

func TestFirstVisibleSwallowsProbeErrors(t *testing.T) {
	t.Parallel()

	dom := &fakeDOM{
		visible: map[string]bool{"#c": true},
		errs: map[string]error{
			"#a": errors.New("detached node"),
			"#b": context.DeadlineExceeded,
		},
	}
	candidates := []Locator{CSS("#a"), CSS("#b"), CSS("#c")}

	got, ok := FirstVisible(context.Background(), dom, candidates, time.Second)
	require.True(t, ok)
	require.Equal(t, CSS("#c"), got)
}

func TestFirstVisibleHonorsParentCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	dom := &fakeDOM{visible: map[string]bool{"#a": true}}
	_, ok := FirstVisible(ctx, dom, []Locator{CSS("#a")}, time.Second)
	require.False(t, ok)
	require.Empty(t, dom.probed)
}

func TestFirstVisibleBoundsEachProbe(t *testing.T) {
	t.Parallel()

	slow := ProbeFunc(func(ctx context.Context, _ Locator) (bool, error) {
		<-ctx.Done()
		return false, ctx.Err()
	})

	start := time.Now()
	_, ok := FirstVisible(context.Background(), slow, []Locator{CSS("#a"), CSS("#b")}, 20*time.Millisecond)
	require.False(t, ok)
	require.Less(t, time.Since(start), 500*time.Millisecond)
}
