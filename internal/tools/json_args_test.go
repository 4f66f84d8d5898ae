package tools

import "testing"

func TestNormalizeJSONArguments(t *testing.T) {
	testCases := []struct {
		name  string
		raw   string
		want  string
		valid bool
	}{
		{name: "blank", raw: "  ", want: "{}", valid: true},
		{name: "valid object", raw: `{"a":1}`, want: `{"a":1}`, valid: true},
		{name: "prose wrapped", raw: `args: {"a":"}"} done`, want: `{"a":"}"}`, valid: true},
		{name: "skips broken prefix", raw: `{oops {"a":[1,{"b":2}]} tail`, want: `{"a":[1,{"b":2}]}`, valid: true},
		{name: "array", raw: `values [1,2]`, want: `[1,2]`, valid: true},
		{name: "garbage", raw: `{"a":`, valid: false},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			got, valid := NormalizeJSONArguments(testCase.raw)
			if valid != testCase.valid {
				t.Fatalf("expected valid=%v, got %v", testCase.valid, valid)
			}
			if valid && got != testCase.want {
				t.Fatalf("expected %q, got %q", testCase.want, got)
			}
		})
	}
}

func TestExtractJSONObject(t *testing.T) {
	got, ok := ExtractJSONObject("```json\n{\"score\": 85, \"comment\": \"good\"}\n```")
	if !ok {
		t.Fatal("expected object to be extracted")
	}
	if got != `{"score": 85, "comment": "good"}` {
		t.Fatalf("unexpected extraction %q", got)
	}

	if _, ok := ExtractJSONObject("I'd say about 78 out of 100, solid work"); ok {
		t.Fatal("expected no object in plain prose")
	}
}
