// Package groupsize estimates how many employees an insight's tags describe.
// Tags are mapped back to survey columns through the value-mapping file and
// applied to the preprocessed population CSV: values of one column are ORed,
// columns are ANDed.
package groupsize

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"hra-insights/types"
)

// conditionColumns maps chronic condition names in the mapping file to the
// per-condition status columns produced by preprocessing
var conditionColumns = map[string]string{
	"Diabet":        "diabetes_status",
	"Tiroid":        "thyroid_disorder_status",
	"Böbrek":        "kidney_disease_status",
	"Kalp":          "heart_disease_status",
	"Obezite":       "obesity_status",
	"Hipertansiyon": "hypertension_status",
	"Kanser":        "cancer_status",
	"Diğer":         "other_condition_status",
}

// bmiTags live in a computed column that has no entry in the mapping file
var bmiTags = []string{"underweight", "normal_weight", "overweight", "obese"}

const bmiColumn = "bmi_category"

// skippedColumns carry identifiers, not health data
var skippedColumns = map[string]bool{"SponsorId": true}

// NoFilterNote is attached when an insight has no tags at all
const NoFilterNote = "No filters applied - represents entire population"

// Target is the column and cell value a tag selects
type Target struct {
	Column string
	Value  string
}

type columnMapping struct {
	Mappings struct {
		English      map[string]string            `yaml:"english"`
		BinaryValues map[string]map[string]string `yaml:"binary_values"`
	} `yaml:"mappings"`
}

// Mappings resolves tags to their target columns
type Mappings struct {
	tags map[string]Target
}

// LoadMappings reads a value-mapping file. JSON files are read through the
// YAML decoder, which accepts them unchanged.
func LoadMappings(path string) (*Mappings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read mappings file: %w", err)
	}
	return ParseMappings(data)
}

// ParseMappings builds the tag table from mapping file content. Columns are
// visited in name order, so a tag defined twice resolves to the last column.
func ParseMappings(data []byte) (*Mappings, error) {
	var raw map[string]columnMapping
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse mappings: %w", err)
	}

	columns := make([]string, 0, len(raw))
	for column := range raw {
		columns = append(columns, column)
	}
	sort.Strings(columns)

	m := &Mappings{tags: make(map[string]Target)}
	for _, column := range columns {
		if skippedColumns[column] {
			continue
		}
		cfg := raw[column].Mappings
		for _, tag := range cfg.English {
			m.tags[tag] = Target{Column: column, Value: tag}
		}

		conditions := make([]string, 0, len(cfg.BinaryValues))
		for condition := range cfg.BinaryValues {
			conditions = append(conditions, condition)
		}
		sort.Strings(conditions)
		for _, condition := range conditions {
			statusColumn, ok := conditionColumns[condition]
			if !ok {
				continue
			}
			for _, tag := range cfg.BinaryValues[condition] {
				m.tags[tag] = Target{Column: statusColumn, Value: tag}
			}
		}
	}

	for _, tag := range bmiTags {
		m.tags[tag] = Target{Column: bmiColumn, Value: tag}
	}
	return m, nil
}

// Lookup returns the target of a tag
func (m *Mappings) Lookup(tag string) (Target, bool) {
	t, ok := m.tags[tag]
	return t, ok
}

// Len is the number of known tags
func (m *Mappings) Len() int {
	return len(m.tags)
}

// Population is the preprocessed survey table held in memory
type Population struct {
	columns map[string]int
	rows    [][]string
}

// LoadPopulation reads a CSV file with a header row
func LoadPopulation(path string) (*Population, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open population csv: %w", err)
	}
	defer f.Close()
	return ReadPopulation(f)
}

// ReadPopulation parses CSV content with a header row
func ReadPopulation(r io.Reader) (*Population, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("population csv is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read csv header: %w", err)
	}

	p := &Population{columns: make(map[string]int, len(header))}
	for i, name := range header {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		if _, dup := p.columns[name]; !dup {
			p.columns[name] = i
		}
	}

	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read csv row: %w", err)
		}
		p.rows = append(p.rows, row)
	}
	return p, nil
}

// Size is the number of data rows
func (p *Population) Size() int {
	return len(p.rows)
}

// HasColumn reports whether the header names column
func (p *Population) HasColumn(column string) bool {
	_, ok := p.columns[column]
	return ok
}

func (p *Population) cell(row []string, column string) string {
	i := p.columns[column]
	if i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// Calculator answers group-size questions for tag sets
type Calculator struct {
	population *Population
	mappings   *Mappings
}

// NewCalculator creates a Calculator over a population and its mappings
func NewCalculator(population *Population, mappings *Mappings) *Calculator {
	return &Calculator{population: population, mappings: mappings}
}

// Load reads both files and creates a Calculator
func Load(csvPath, mappingsPath string) (*Calculator, error) {
	population, err := LoadPopulation(csvPath)
	if err != nil {
		return nil, err
	}
	mappings, err := LoadMappings(mappingsPath)
	if err != nil {
		return nil, err
	}
	return NewCalculator(population, mappings), nil
}

type columnFilter struct {
	column string
	values []string
}

// Calculate counts the rows selected by the combined tags
func (c *Calculator) Calculate(healthTags, demographicTags []string) types.TargetGroup {
	total := c.population.Size()
	tags := append(append([]string{}, healthTags...), demographicTags...)

	if len(tags) == 0 {
		return types.TargetGroup{
			Size:            total,
			Percentage:      100.0,
			FiltersApplied:  []string{},
			TotalPopulation: total,
			Note:            NoFilterNote,
		}
	}

	var (
		filters []columnFilter
		byName  = make(map[string]int)
		unknown []string
	)
	for _, tag := range tags {
		target, ok := c.mappings.Lookup(tag)
		if !ok {
			unknown = append(unknown, tag)
			continue
		}
		if !c.population.HasColumn(target.Column) {
			unknown = append(unknown, fmt.Sprintf("%s (column %s not found)", tag, target.Column))
			continue
		}
		i, seen := byName[target.Column]
		if !seen {
			i = len(filters)
			byName[target.Column] = i
			filters = append(filters, columnFilter{column: target.Column})
		}
		filters[i].values = append(filters[i].values, target.Value)
	}

	size := 0
	for _, row := range c.population.rows {
		if c.matches(row, filters) {
			size++
		}
	}

	group := types.TargetGroup{
		Size:            size,
		Percentage:      percentage(size, total),
		FiltersApplied:  describe(filters),
		TotalPopulation: total,
		UnknownTags:     unknown,
	}
	return group
}

func (c *Calculator) matches(row []string, filters []columnFilter) bool {
	for _, f := range filters {
		value := c.population.cell(row, f.column)
		hit := false
		for _, want := range f.values {
			if value == want {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}
	return true
}

// Enrich attaches a target group to every insight in place
func (c *Calculator) Enrich(insights []types.Insight) {
	for i := range insights {
		group := c.Calculate(insights[i].HealthTags, insights[i].DemographicTags)
		insights[i].TargetGroup = &group
	}
}

func percentage(size, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(size)/float64(total)*100*100) / 100
}

func describe(filters []columnFilter) []string {
	out := make([]string, 0, len(filters))
	for _, f := range filters {
		if len(f.values) == 1 {
			out = append(out, fmt.Sprintf("%s=%s", f.column, f.values[0]))
			continue
		}
		out = append(out, fmt.Sprintf("%s IN (%s)", f.column, strings.Join(f.values, " OR ")))
	}
	return out
}
