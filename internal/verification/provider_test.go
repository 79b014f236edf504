package verification

import "testing"

func TestFaceResult_Verified(t *testing.T) {
	tests := []struct {
		name string
		res  *FaceResult
		want bool
	}{
		{"nil", nil, false},
		{"no match", &FaceResult{Match: false, Confidence: 100}, false},
		{"below threshold", &FaceResult{Match: true, Confidence: MinFaceConfidence - 0.01}, false},
		{"at threshold", &FaceResult{Match: true, Confidence: MinFaceConfidence}, true},
		{"above threshold", &FaceResult{Match: true, Confidence: 99.5}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.res.Verified(MinFaceConfidence); got != tt.want {
				t.Errorf("Verified() = %v, want %v", got, tt.want)
			}
		})
	}
}
