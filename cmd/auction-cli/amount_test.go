package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseAmount(t *testing.T) {
	cases := []struct {
		in       string
		decimals int32
		want     string
		err      string
	}{
		{in: "1.5", decimals: 18, want: "1500000000000000000"},
		{in: "42", decimals: 0, want: "42"},
		{in: " 0.01 ", decimals: 2, want: "1"},
		{in: "0.001", decimals: 2, err: "more than 2 decimal places"},
		{in: "0", decimals: 2, err: "amount must be positive"},
		{in: "-3", decimals: 0, err: "amount must be positive"},
		{in: "abc", decimals: 0, err: "invalid amount"},
		{in: "", decimals: 0, err: "amount required"},
	}
	for _, tc := range cases {
		got, err := parseAmount(tc.in, tc.decimals)
		if tc.err != "" {
			require.ErrorContains(t, err, tc.err, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		require.Equal(t, tc.want, got.String(), tc.in)
	}
}

func TestFormatAmount(t *testing.T) {
	require.Equal(t, "1.5", formatAmount("1500000000000000000", 18))
	require.Equal(t, "0", formatAmount("0", 18))
	require.Equal(t, "7", formatAmount("7", 0))
	require.Equal(t, "garbage", formatAmount("garbage", 2))
}
