package decode

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func lbl(text, tag string) TokenLabel {
	return TokenLabel{Text: text, Tag: tag, Score: 0.9}
}

func spanPairs(spans []EntitySpan) [][2]string {
	out := make([][2]string, len(spans))
	for i, s := range spans {
		out[i] = [2]string{s.Text, s.Type}
	}
	return out
}

func TestEntityType(t *testing.T) {
	tests := map[string]string{
		"B-Medication":   "Medication",
		"I-Dosage":       "Dosage",
		"B-Sign_symptom": "Sign_symptom",
		"B-Lab-value":    "Lab-value",
		"Medication":     "Medication",
		"O":              "O",
		"-Leading":       "Leading",
		"":               "",
	}
	for tag, want := range tests {
		assert.Equal(t, want, EntityType(tag), "tag %q", tag)
	}
}

func TestMergeSpans(t *testing.T) {
	tests := []struct {
		name   string
		labels []TokenLabel
		want   [][2]string
	}{
		{
			name:   "subword pieces glue without a space",
			labels: []TokenLabel{lbl("Amoxi", "B-Medication"), lbl("##cillin", "I-Medication")},
			want:   [][2]string{{"Amoxicillin", "Medication"}},
		},
		{
			name:   "type change closes the span",
			labels: []TokenLabel{lbl("200", "B-Dosage"), lbl("MG", "I-Dosage"), lbl("tablets", "B-Administration")},
			want:   [][2]string{{"200 MG", "Dosage"}, {"tablets", "Administration"}},
		},
		{
			name:   "B after I of the same type still merges",
			labels: []TokenLabel{lbl("twice", "B-Frequency"), lbl("a", "I-Frequency"), lbl("day", "B-Frequency")},
			want:   [][2]string{{"twice a day", "Frequency"}},
		},
		{
			name:   "direct type switch without O gap",
			labels: []TokenLabel{lbl("lisinopril", "B-Medication"), lbl("25", "B-Dosage"), lbl("##mg", "I-Dosage")},
			want:   [][2]string{{"lisinopril", "Medication"}, {"25mg", "Dosage"}},
		},
		{
			name:   "leading continuation marker is stripped",
			labels: []TokenLabel{lbl("##itis", "I-Disease_disorder")},
			want:   [][2]string{{"itis", "Disease_disorder"}},
		},
		{
			name:   "malformed tags use the whole tag as the type",
			labels: []TokenLabel{lbl("fever", "Symptom"), lbl("##ish", "Symptom"), lbl("cough", "B-Symptom")},
			want:   [][2]string{{"feverish cough", "Symptom"}},
		},
		{
			name:   "empty input",
			labels: nil,
			want:   [][2]string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, spanPairs(MergeSpans(tt.labels)))
		})
	}
}

func TestMergeSpans_ConfidenceIsMinimum(t *testing.T) {
	labels := []TokenLabel{
		{Text: "Amoxi", Tag: "B-Medication", Score: 0.97},
		{Text: "##cillin", Tag: "I-Medication", Score: 0.61},
		{Text: "500", Tag: "B-Dosage", Score: 0.88},
	}
	spans := MergeSpans(labels)
	assert.Len(t, spans, 2)
	assert.Equal(t, 0.61, spans[0].Confidence)
	assert.Equal(t, 0.88, spans[1].Confidence)
}

func TestMergeSpans_DoesNotAliasInput(t *testing.T) {
	labels := []TokenLabel{lbl("Amoxi", "B-Medication"), lbl("##cillin", "I-Medication")}
	_ = MergeSpans(labels)
	assert.Equal(t, "##cillin", labels[1].Text)
}

func TestMergeSpansWith_StrictBIO(t *testing.T) {
	labels := []TokenLabel{
		lbl("aspirin", "B-Medication"),
		lbl("ibu", "B-Medication"),
		lbl("##profen", "B-Medication"),
		lbl("tablets", "I-Medication"),
	}

	lenient := MergeSpansWith(labels, MergeOptions{})
	assert.Equal(t, [][2]string{{"aspirin ibuprofen tablets", "Medication"}}, spanPairs(lenient))

	strict := MergeSpansWith(labels, MergeOptions{StrictBIO: true})
	assert.Equal(t, [][2]string{
		{"aspirin", "Medication"},
		{"ibuprofen tablets", "Medication"},
	}, spanPairs(strict))
}
