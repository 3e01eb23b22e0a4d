package gql

import "testing"

func TestIsMutation(t *testing.T) {
	multi := "query Q { packages { trackingNumber } }\nmutation M { deletePackage(trackingNumber: \"X\") }"
	cases := []struct {
		query, op string
		want      bool
	}{
		{`{ packages { trackingNumber } }`, "", false},
		{`query { packages { trackingNumber } }`, "", false},
		{`mutation { deletePackage(trackingNumber: "X") }`, "", true},
		{"# comment\n  mutation { deletePackage(trackingNumber: \"X\") }", "", true},
		{multi, "M", true},
		{multi, "Q", false},
		{multi, "", true},
		{`mutation {`, "", false},
	}
	for _, tc := range cases {
		if got := isMutation(tc.query, tc.op); got != tc.want {
			t.Errorf("isMutation(%q, %q) = %v, want %v", tc.query, tc.op, got, tc.want)
		}
	}
}
