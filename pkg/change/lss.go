package change

import "github.com/paulmach/orb"

// LSSRatio computes the longest-similar-subsequence ratio between two
// sampled point sequences. Two points match when their distance is
// below tolerance; the ratio is the longest consecutive matching run
// (diagonal dynamic program) divided by the shorter sequence length.
func LSSRatio(a, b []orb.Point, tolerance float64) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	// dp[j] is the current run length ending at (i, j); a single row
	// updated right-to-left carries the previous row's diagonal.
	dp := make([]int, len(b)+1)
	best := 0

	for i := 1; i <= len(a); i++ {
		prevDiag := 0
		for j := 1; j <= len(b); j++ {
			tmp := dp[j]
			if pointsMatch(a[i-1], b[j-1], tolerance) {
				dp[j] = prevDiag + 1
				if dp[j] > best {
					best = dp[j]
				}
			} else {
				dp[j] = 0
			}
			prevDiag = tmp
		}
	}

	short := len(a)
	if len(b) < short {
		short = len(b)
	}
	return float64(best) / float64(short)
}

func pointsMatch(p, q orb.Point, tolerance float64) bool {
	dx, dy := p[0]-q[0], p[1]-q[1]
	return dx*dx+dy*dy <= tolerance*tolerance
}
