package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConditionEvaluator_Evaluate(t *testing.T) {
	ev, err := NewConditionEvaluator()
	require.NoError(t, err)

	tests := []struct {
		name      string
		condition string
		count     int
		want      bool
	}{
		{"greater true", "resultCount > 0", 3, true},
		{"greater false", "resultCount > 0", 0, false},
		{"greater or equal", "resultCount >= 3", 3, true},
		{"equal", "resultCount == 2", 2, true},
		{"equal false", "resultCount == 2", 5, false},
		{"less or equal", "resultCount <= 2", 5, false},
		{"less", "resultCount < 10", 9, true},
		{"case insensitive", "RESULTCOUNT > 0", 1, true},
		{"whitespace normalized", "  resultCount   >=\t4 ", 4, true},
		{"no spaces", "resultCount>0", 0, false},
		{"fallback true", "isValid == true", 0, true},
		{"fallback one", "x == 1", 0, true},
		{"fallback false", "foo", 100, false},
		{"other identifier", "count > 0", 5, false},
		{"negative literal falls back", "resultCount > -1", 0, true},
		{"overflow falls back", "resultCount > 99999999999999999999999", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ev.Evaluate(tt.condition, tt.count))
		})
	}
}

func TestConditionEvaluator_ExtractTotalCount(t *testing.T) {
	ev, err := NewConditionEvaluator()
	require.NoError(t, err)
	ctx := context.Background()

	tests := []struct {
		name   string
		output string
		want   int
	}{
		{"number", `{"totalCount": 3}`, 3},
		{"numeric string", `{"totalCount": "7"}`, 7},
		{"bool", `{"totalCount": true}`, 1},
		{"missing", `{"results": []}`, 0},
		{"null", `{"totalCount": null}`, 0},
		{"not json", `delay completed: 5ms`, 0},
		{"array", `[1,2,3]`, 0},
		{"empty", ``, 0},
		{"text value", `{"totalCount": "many"}`, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ev.ExtractTotalCount(ctx, tt.output))
		})
	}
}
