package capture

import "testing"

func TestQueryOptionsNormalize(t *testing.T) {
	tests := []struct {
		name      string
		in        QueryOptions
		wantLimit int
		wantOrder string
	}{
		{"defaults", QueryOptions{}, DefaultQueryLimit, OrderDesc},
		{"negative limit", QueryOptions{Limit: -5}, DefaultQueryLimit, OrderDesc},
		{"limit above max", QueryOptions{Limit: 5000}, MaxQueryLimit, OrderDesc},
		{"limit kept", QueryOptions{Limit: 250}, 250, OrderDesc},
		{"asc kept", QueryOptions{Order: OrderAsc}, DefaultQueryLimit, OrderAsc},
		{"unknown order", QueryOptions{Order: "sideways"}, DefaultQueryLimit, OrderDesc},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.in.Normalize()
			if got.Limit != tt.wantLimit {
				t.Errorf("Limit = %d, want %d", got.Limit, tt.wantLimit)
			}
			if got.Order != tt.wantOrder {
				t.Errorf("Order = %q, want %q", got.Order, tt.wantOrder)
			}
		})
	}
}

func TestQueryOptionsNormalizeKeepsFilters(t *testing.T) {
	in := QueryOptions{ServerName: "weather", SessionID: "abc", Method: "tools/call"}
	got := in.Normalize()
	if got.ServerName != "weather" || got.SessionID != "abc" || got.Method != "tools/call" {
		t.Errorf("filters mutated: %+v", got)
	}
}
