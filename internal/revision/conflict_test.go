package revision

import "testing"

func TestCheckConflict(t *testing.T) {
	tests := []struct {
		name         string
		localToken   string
		remoteToken  string
		wantConflict bool
	}{
		{
			name:         "same token, no conflict",
			localToken:   "3f1c2a",
			remoteToken:  "3f1c2a",
			wantConflict: false,
		},
		{
			name:         "remote moved on",
			localToken:   "3f1c2a",
			remoteToken:  "9e77d0",
			wantConflict: true,
		},
		{
			name:         "never saved and absent remotely",
			localToken:   "",
			remoteToken:  "",
			wantConflict: false,
		},
		{
			name:         "never saved but present remotely",
			localToken:   "",
			remoteToken:  "3f1c2a",
			wantConflict: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CheckConflict(tt.localToken, tt.remoteToken)
			if got != tt.wantConflict {
				t.Errorf("CheckConflict(%q, %q) = %v, want %v",
					tt.localToken, tt.remoteToken, got, tt.wantConflict)
			}
		})
	}
}
