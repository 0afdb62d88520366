package snapshot

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/johnschieferleuhlenbrock/ha-snapshot/internal/registry"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []Record
	}{
		{
			name: "single object",
			raw:  `{"entity_id":"light.a","name":"A"}`,
			want: []Record{{EntityID: "light.a", NameSet: true, Name: registry.Ptr("A")}},
		},
		{
			name: "tree with integration id lists",
			raw: `{"floors":[{"areas":[{"devices":[{"id":"d1","entities":[{"entity_id":"light.a","labels":["x"]}]}],` +
				`"entities":[{"entity_id":"sensor.b"}]}]}],"integrations":[{"entry_id":"e1","entities":["light.a"]}]}`,
			want: []Record{
				{EntityID: "light.a", LabelsSet: true, Labels: []string{"x"}},
				{EntityID: "sensor.b"},
			},
		},
		{
			name: "non-string entity_id is ignored",
			raw:  `[{"entity_id":5},{"entity_id":null}]`,
		},
		{
			name: "null labels clear",
			raw:  `{"entity_id":"light.a","labels":null}`,
			want: []Record{{EntityID: "light.a", LabelsSet: true, Labels: []string{}}},
		},
		{
			name: "numeric name is invalid",
			raw:  `{"entity_id":"light.a","name":1.5}`,
			want: []Record{{EntityID: "light.a", NameSet: true, Invalid: "name must be a string or null, got json.Number"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse([]byte(tt.raw))
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("records mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseErrors(t *testing.T) {
	for _, raw := range []string{"", "   ", "{", `{"a":1}{"b":2}`, "nope"} {
		if _, err := Parse([]byte(raw)); !errors.Is(err, ErrParse) {
			t.Errorf("Parse(%q) error = %v, want ErrParse", raw, err)
		}
	}
}
