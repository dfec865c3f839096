package template

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_SingleAndVector(t *testing.T) {
	text := `
# backup job
NAME = "nightly"
priority = 7
BACKUP_VMS = "4,2,0"
SCHED_ACTION = [
  REPEAT = "3",
  DAYS = "1",
  TIME = "+3600"
]
SCHED_ACTION = [ REPEAT = 0, DAYS = "1,5" ]
`
	tpl, err := Parse(text)
	require.NoError(t, err)

	name, ok := tpl.Get("name")
	assert.True(t, ok)
	assert.Equal(t, "nightly", name)

	prio, _ := tpl.Get("PRIORITY")
	assert.Equal(t, "7", prio)

	vms, _ := tpl.Get("BACKUP_VMS")
	assert.Equal(t, "4,2,0", vms)

	scheds := tpl.Vectors("SCHED_ACTION")
	require.Len(t, scheds, 2)
	rep, _ := scheds[0].Get("repeat")
	assert.Equal(t, "3", rep)
	tm, _ := scheds[0].Get("TIME")
	assert.Equal(t, "+3600", tm)
	days, _ := scheds[1].Get("DAYS")
	assert.Equal(t, "1,5", days)
}

func TestParse_EscapedQuotes(t *testing.T) {
	tpl, err := Parse(`DESCRIPTION = "say \"hi\""`)
	require.NoError(t, err)
	v, _ := tpl.Get("DESCRIPTION")
	assert.Equal(t, `say "hi"`, v)
}

func TestParse_Errors(t *testing.T) {
	cases := map[string]string{
		"missing equals":     `NAME "x"`,
		"unterminated quote": `NAME = "x`,
		"unterminated vec":   `A = [ B = 1`,
		"bad separator":      `A = [ B = "1" C = 2 ]`,
		"no name":            `= 1`,
	}
	for name, text := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(text)
			var se *SyntaxError
			assert.ErrorAs(t, err, &se)
		})
	}
}

func TestTemplate_SetDelete(t *testing.T) {
	tpl := New()
	tpl.Set("mode", "FULL")
	tpl.Set("MODE", "INCREMENT")
	assert.Len(t, tpl.Attributes(), 1)
	v, _ := tpl.Get("mode")
	assert.Equal(t, "INCREMENT", v)

	tpl.Delete("Mode")
	assert.False(t, tpl.Has("MODE"))
}

// TestTemplate_RoundTrip rendering then parsing keeps every value
// TestTemplate_RoundTrip 渲染后再解析，所有值保持不变
func TestTemplate_RoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("render/parse round trip", prop.ForAll(
		func(value string, vecValue string) bool {
			tpl := New()
			tpl.Set("KEY", value)
			tpl.AddVector("VEC", []Pair{{Name: "A", Value: vecValue}})

			parsed, err := Parse(tpl.String())
			if err != nil {
				return false
			}
			got, _ := parsed.Get("KEY")
			vecs := parsed.Vectors("VEC")
			if len(vecs) != 1 {
				return false
			}
			gotVec, _ := vecs[0].Get("A")
			return got == value && gotVec == vecValue
		},
		gen.AnyString(),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
