package groupsize

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hra-insights/types"
)

const mappingsJSON = `{
  "SponsorId": {"mappings": {"english": {"1": "sponsor_tag"}}},
  "A.smoking_status": {
    "mappings": {"english": {"Her gün": "daily_smoker", "Hiç": "never_smoker"}}
  },
  "gender": {
    "mappings": {"english": {"Kadın": "female", "Erkek": "male"}}
  },
  "age_group": {
    "mappings": {"english": {"18-29": "age_18_29", "30-39": "age_30_39", "40-49": "age_40_49"}}
  },
  "chronic": {
    "mappings": {
      "binary_values": {
        "Diabet": {"Var": "has_diabetes", "Yok": "no_diabetes"},
        "Kalp": {"Var": "has_heart_disease"},
        "Astım": {"Var": "has_asthma"}
      }
    }
  }
}`

const populationCSV = `A.smoking_status,gender,age_group,diabetes_status,bmi_category
daily_smoker,female,age_18_29,no_diabetes,normal_weight
daily_smoker,male,age_30_39,has_diabetes,obese
never_smoker,female,age_30_39,no_diabetes,overweight
never_smoker,male,age_40_49,has_diabetes,obese
daily_smoker,female,age_40_49,no_diabetes,normal_weight
never_smoker,female,age_18_29,no_diabetes,underweight
`

func newCalculator(t *testing.T) *Calculator {
	t.Helper()
	mappings, err := ParseMappings([]byte(mappingsJSON))
	require.NoError(t, err)
	population, err := ReadPopulation(strings.NewReader(populationCSV))
	require.NoError(t, err)
	return NewCalculator(population, mappings)
}

func TestParseMappings(t *testing.T) {
	m, err := ParseMappings([]byte(mappingsJSON))
	require.NoError(t, err)

	tests := []struct {
		tag    string
		column string
		found  bool
	}{
		{"daily_smoker", "A.smoking_status", true},
		{"female", "gender", true},
		{"has_diabetes", "diabetes_status", true},
		{"has_heart_disease", "heart_disease_status", true},
		{"obese", "bmi_category", true},
		{"underweight", "bmi_category", true},
		{"has_asthma", "", false},
		{"sponsor_tag", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.tag, func(t *testing.T) {
			target, ok := m.Lookup(tt.tag)
			assert.Equal(t, tt.found, ok)
			if tt.found {
				assert.Equal(t, tt.column, target.Column)
				assert.Equal(t, tt.tag, target.Value)
			}
		})
	}
}

func TestParseMappingsYAML(t *testing.T) {
	m, err := ParseMappings([]byte("gender:\n  mappings:\n    english:\n      Kadın: female\n"))
	require.NoError(t, err)
	target, ok := m.Lookup("female")
	require.True(t, ok)
	assert.Equal(t, "gender", target.Column)
	assert.Equal(t, 5, m.Len())
}

func TestParseMappingsInvalid(t *testing.T) {
	_, err := ParseMappings([]byte("{not json"))
	assert.Error(t, err)
}

func TestCalculate(t *testing.T) {
	c := newCalculator(t)

	tests := []struct {
		name        string
		health      []string
		demographic []string
		wantSize    int
		wantPct     float64
		wantFilters []string
		wantUnknown []string
	}{
		{
			name:        "single column",
			health:      []string{"daily_smoker"},
			wantSize:    3,
			wantPct:     50,
			wantFilters: []string{"A.smoking_status=daily_smoker"},
		},
		{
			name:        "and across columns",
			health:      []string{"daily_smoker"},
			demographic: []string{"female"},
			wantSize:    2,
			wantPct:     33.33,
			wantFilters: []string{"A.smoking_status=daily_smoker", "gender=female"},
		},
		{
			name:        "or within a column",
			demographic: []string{"age_18_29", "age_30_39"},
			wantSize:    4,
			wantPct:     66.67,
			wantFilters: []string{"age_group IN (age_18_29 OR age_30_39)"},
		},
		{
			name:        "computed bmi column",
			health:      []string{"obese", "has_diabetes"},
			wantSize:    2,
			wantPct:     33.33,
			wantFilters: []string{"bmi_category=obese", "diabetes_status=has_diabetes"},
		},
		{
			name:        "unknown tags ignored",
			health:      []string{"marathon_runner", "never_smoker"},
			wantSize:    3,
			wantPct:     50,
			wantFilters: []string{"A.smoking_status=never_smoker"},
			wantUnknown: []string{"marathon_runner"},
		},
		{
			name:        "mapped column missing from csv",
			health:      []string{"has_heart_disease"},
			wantSize:    6,
			wantPct:     100,
			wantFilters: []string{},
			wantUnknown: []string{"has_heart_disease (column heart_disease_status not found)"},
		},
		{
			name:        "no match",
			health:      []string{"never_smoker"},
			demographic: []string{"age_30_39", "male"},
			wantSize:    0,
			wantPct:     0,
			wantFilters: []string{"A.smoking_status=never_smoker", "age_group=age_30_39", "gender=male"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			group := c.Calculate(tt.health, tt.demographic)
			assert.Equal(t, tt.wantSize, group.Size)
			assert.Equal(t, tt.wantPct, group.Percentage)
			assert.Equal(t, tt.wantFilters, group.FiltersApplied)
			assert.Equal(t, tt.wantUnknown, group.UnknownTags)
			assert.Equal(t, 6, group.TotalPopulation)
			assert.Empty(t, group.Note)
		})
	}
}

func TestCalculateWithoutTags(t *testing.T) {
	group := newCalculator(t).Calculate(nil, []string{})
	assert.Equal(t, 6, group.Size)
	assert.Equal(t, 100.0, group.Percentage)
	assert.Equal(t, []string{}, group.FiltersApplied)
	assert.Equal(t, NoFilterNote, group.Note)
}

func TestCalculateEmptyPopulation(t *testing.T) {
	mappings, err := ParseMappings([]byte(mappingsJSON))
	require.NoError(t, err)
	population, err := ReadPopulation(strings.NewReader("gender\n"))
	require.NoError(t, err)

	group := NewCalculator(population, mappings).Calculate([]string{"female"}, nil)
	assert.Equal(t, 0, group.Size)
	assert.Equal(t, 0.0, group.Percentage)
}

func TestReadPopulationErrors(t *testing.T) {
	_, err := ReadPopulation(strings.NewReader(""))
	assert.Error(t, err)

	_, err = ReadPopulation(strings.NewReader("a,b\n\"unterminated,1\n"))
	assert.Error(t, err)
}

func TestEnrich(t *testing.T) {
	c := newCalculator(t)
	insights := []types.Insight{
		{ID: "insight_01", HealthTags: []string{"daily_smoker"}},
		{ID: "insight_02"},
	}
	c.Enrich(insights)

	require.NotNil(t, insights[0].TargetGroup)
	assert.Equal(t, 3, insights[0].TargetGroup.Size)
	require.NotNil(t, insights[1].TargetGroup)
	assert.Equal(t, NoFilterNote, insights[1].TargetGroup.Note)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "data.csv")
	mapPath := filepath.Join(dir, "value_mappings.json")
	require.NoError(t, os.WriteFile(csvPath, []byte("\ufeff"+populationCSV), 0o644))
	require.NoError(t, os.WriteFile(mapPath, []byte(mappingsJSON), 0o644))

	c, err := Load(csvPath, mapPath)
	require.NoError(t, err)
	assert.Equal(t, 3, c.Calculate([]string{"daily_smoker"}, nil).Size)

	_, err = Load(filepath.Join(dir, "missing.csv"), mapPath)
	assert.Error(t, err)
	_, err = Load(csvPath, filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}
