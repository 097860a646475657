package observable

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValueNotifiesInOrder(t *testing.T) {
	v := New(0)
	var seen []string

	v.Subscribe(func(n int) { seen = append(seen, "a") })
	v.Subscribe(func(n int) { seen = append(seen, "b") })

	v.Set(1)
	require.Equal(t, 1, v.Current())
	require.Equal(t, []string{"a", "b"}, seen)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	v := New("")
	var got []string
	cancel := v.Subscribe(func(s string) { got = append(got, s) })

	v.Set("first")
	cancel()
	cancel()
	v.Set("second")

	require.Equal(t, []string{"first"}, got)
	require.Equal(t, "second", v.Current())
}

func TestNilSubscriberIsIgnored(t *testing.T) {
	v := New(1)
	cancel := v.Subscribe(nil)
	cancel()
	v.Set(2)
	require.Equal(t, 2, v.Current())
}
