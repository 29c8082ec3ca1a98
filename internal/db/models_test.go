package db

import "testing"

func TestEventStatusCanTransition(t *testing.T) {
	cases := []struct {
		from, to EventStatus
		want     bool
	}{
		{EventPending, EventProcessing, true},
		{EventProcessing, EventProcessed, true},
		{EventProcessing, EventFailed, true},
		// A failed event re-enters processing when its task is retried.
		{EventFailed, EventProcessing, true},
		{EventPending, EventProcessed, false},
		{EventProcessed, EventProcessing, false},
		{EventFailed, EventProcessed, false},
		{EventProcessed, EventFailed, false},
	}
	for _, tc := range cases {
		if got := tc.from.CanTransition(tc.to); got != tc.want {
			t.Errorf("CanTransition(%s -> %s) = %t, want %t", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestWebhookShouldTrigger(t *testing.T) {
	w := &Webhook{IsActive: true, Events: []string{"click", "pageview"}}
	if !w.ShouldTrigger("click") {
		t.Error("subscribed type should trigger")
	}
	if w.ShouldTrigger("purchase") {
		t.Error("unsubscribed type should not trigger")
	}

	wildcard := &Webhook{IsActive: true, Events: []string{"*"}}
	if !wildcard.ShouldTrigger("anything") {
		t.Error("wildcard should trigger for any type")
	}

	inactive := &Webhook{IsActive: false, Events: []string{"*"}}
	if inactive.ShouldTrigger("click") {
		t.Error("inactive webhook should never trigger")
	}
}
