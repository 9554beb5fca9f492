package component

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		doc  map[string]interface{}
		want Kind
	}{
		{
			name: "tool",
			doc:  map[string]interface{}{"parameters": map[string]interface{}{}, "execution": map[string]interface{}{}},
			want: KindTool,
		},
		{
			name: "pattern",
			doc:  map[string]interface{}{"implementation": map[string]interface{}{}},
			want: KindPattern,
		},
		{
			name: "constraint",
			doc:  map[string]interface{}{"validation": map[string]interface{}{}, "enforcement": map[string]interface{}{}},
			want: KindConstraint,
		},
		{
			name: "governance",
			doc: map[string]interface{}{
				"policy_type": "naming",
				"enforcement": map[string]interface{}{"level": "blocking"},
			},
			want: KindGovernance,
		},
		{
			name: "governance missing level is not governance",
			doc:  map[string]interface{}{"policy_type": "naming", "enforcement": map[string]interface{}{}},
			want: KindUnknown,
		},
		{
			name: "variant",
			doc:  map[string]interface{}{"instructions": "be nice", "anchors": map[string]interface{}{}},
			want: KindVariant,
		},
		{
			name: "learning falls back on title",
			doc:  map[string]interface{}{"title": "lessons learned"},
			want: KindLearning,
		},
		{
			name: "unknown",
			doc:  map[string]interface{}{"foo": "bar"},
			want: KindUnknown,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.doc))
		})
	}
}

func TestAggregateKey(t *testing.T) {
	assert.Equal(t, "tools", AggregateKey(KindTool))
	assert.Equal(t, "patterns", AggregateKey(KindPattern))
	assert.Equal(t, "constraints", AggregateKey(KindConstraint))
	assert.Equal(t, "governance_policies", AggregateKey(KindGovernance))
	assert.Equal(t, "variants", AggregateKey(KindVariant))
	assert.Equal(t, "learning_records", AggregateKey(KindLearning))
	assert.Equal(t, "", AggregateKey(KindUnknown))
}

func TestKindFromDir(t *testing.T) {
	assert.Equal(t, KindTool, KindFromDir("tools"))
	assert.Equal(t, KindGovernance, KindFromDir("governance"))
	assert.Equal(t, KindUnknown, KindFromDir("nonsense"))
}
