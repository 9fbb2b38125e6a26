package types

import "testing"

func TestSanitizeModelJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", `{"a":1}`, `{"a":1}`},
		{"fenced", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"trailing comma", `{"a":[1,2,],}`, `{"a":[1,2]}`},
		{"block comment", `{"a":/* one */1}`, `{"a":1}`},
		{"prose around", `Here you go: {"a":1} hope it helps`, `{"a":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeModelJSON(tt.in); got != tt.want {
				t.Errorf("SanitizeModelJSON(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseDetectionResult(t *testing.T) {
	raw := "```json\n" + `{
  "candidates": [
    {"box": {"x": 0.1, "y": 0.2, "w": 0.1, "h": 0.1}, "confidence": 0.9},
    {"box": {"x": 0.5, "y": 0.5, "w": 0.2, "h": 0.2}, "confidence": 0.3,
     "ellipse": {"cx": 0.6, "cy": 0.6, "w": 0.1, "h": 0.05, "angle": 30}},
  ],
  "description": "two candidates"
}` + "\n```"

	res := ParseDetectionResult(raw)
	if len(res.Candidates) != 2 {
		t.Fatalf("Expected 2 candidates, got %d (%s)", len(res.Candidates), res.Description)
	}
	cx, cy := res.Candidates[0].Box.Center()
	if cx != 0.15000000000000002 && cx != 0.15 {
		t.Errorf("Unexpected center x %v", cx)
	}
	if cy != 0.25 {
		t.Errorf("Unexpected center y %v", cy)
	}
	if res.Candidates[1].Ellipse == nil || res.Candidates[1].Ellipse.Angle != 30 {
		t.Errorf("Expected ellipse with angle 30, got %+v", res.Candidates[1].Ellipse)
	}
}

func TestParseDetectionResultFallback(t *testing.T) {
	for _, raw := range []string{"I cannot see any tags.", `{"candidates": [}`} {
		res := ParseDetectionResult(raw)
		if res == nil {
			t.Fatalf("Expected non-nil result for %q", raw)
		}
		if len(res.Candidates) != 0 {
			t.Errorf("Expected no candidates for %q, got %d", raw, len(res.Candidates))
		}
		if res.Description == "" {
			t.Errorf("Expected explanatory description for %q", raw)
		}
	}
}
