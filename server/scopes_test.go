package server

import (
	"reflect"
	"testing"
)

func TestComputeFinalScopesAlwaysInjectsBridgeScope(t *testing.T) {
	tests := []struct {
		name      string
		requested []string
		allowed   []string
		want      []string
	}{
		{
			name:      "bridge scope appended",
			requested: []string{"read", "write"},
			want:      []string{"read", "write", BridgeScope},
		},
		{
			name:      "empty request still yields bridge scope",
			requested: nil,
			want:      []string{BridgeScope},
		},
		{
			name:      "explicitly requested bridge scope not duplicated",
			requested: []string{BridgeScope, "read"},
			want:      []string{BridgeScope, "read"},
		},
		{
			name:      "disallowed scopes dropped",
			requested: []string{"read", "admin"},
			allowed:   []string{"read", "write"},
			want:      []string{"read", BridgeScope},
		},
		{
			name:      "bridge scope survives a restrictive allowlist",
			requested: []string{"read"},
			allowed:   []string{"read"},
			want:      []string{"read", BridgeScope},
		},
		{
			name:      "duplicates collapsed",
			requested: []string{"read", "read", "write"},
			want:      []string{"read", "write", BridgeScope},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeFinalScopes(tt.requested, tt.allowed)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ComputeFinalScopes(%v, %v) = %v, want %v", tt.requested, tt.allowed, got, tt.want)
			}
		})
	}
}

func TestParseScopes(t *testing.T) {
	if got := ParseScopes(""); len(got) != 0 {
		t.Errorf("empty string should yield empty list, got %v", got)
	}
	if got := ParseScopes("read  write"); len(got) != 2 {
		t.Errorf("got %v", got)
	}
}

func TestHasAllScopes(t *testing.T) {
	granted := []string{"read", "write", BridgeScope}
	if !HasAllScopes(granted, []string{"read", BridgeScope}) {
		t.Error("expected true")
	}
	if HasAllScopes(granted, []string{"admin"}) {
		t.Error("expected false")
	}
	if !HasAllScopes(granted, nil) {
		t.Error("empty requirement should pass")
	}
}
