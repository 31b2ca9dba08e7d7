// Package report renders collected results as flat or comparison tables.
package report

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"enge/internal/results"
)

// ErrInvalidUnify is returned for a unify pair without "=".
var ErrInvalidUnify = errors.New("unify pairs must look like plan1=plan2")

type Options struct {
	ShowArch bool
	// Level2 adds the test cases below each plan.
	Level2 bool
	// Short keeps only the last path segment of plan and test names.
	Short bool
	// Unify merges differently named plans into one comparison row.
	Unify []string
	Color bool
}

func (o Options) splitIndex() int {
	if o.Short {
		return -1
	}
	return 0
}

func (o Options) colorize(result, label string) string {
	if label == "" {
		label = result
	}
	if !o.Color {
		return label
	}
	switch result {
	case "PASSED":
		return text.Colors{text.FgGreen, text.Bold}.Sprint(label)
	case "FAILED":
		return text.Colors{text.FgRed, text.Bold}.Sprint(label)
	case "ERROR":
		return text.Colors{text.FgYellow, text.Bold}.Sprint(label)
	}
	return label
}

// SplitName drops the leading slash of name and keeps the segments from
// index on; a negative index counts from the end.
func SplitName(name string, index int) string {
	parts := strings.Split(name, "/")
	for i, p := range parts {
		if p == "" {
			parts = append(parts[:i], parts[i+1:]...)
			break
		}
	}
	if index < 0 {
		index += len(parts)
		if index < 0 {
			index = 0
		}
	}
	if index > len(parts) {
		index = len(parts)
	}
	return strings.Join(parts[index:], "/")
}

// suites returns the testsuites to show for tr. Tasks without XUnit detail
// are shown as one plan row carrying the coarse result.
func suites(tr *results.TaskResult) []results.TestsuiteResult {
	if len(tr.Testsuites) > 0 || !(tr.Degraded || tr.PipelineError || tr.State == "error") {
		return tr.Testsuites
	}
	res := strings.ToUpper(tr.Overall)
	if res == "" || tr.State == "error" {
		res = "ERROR"
	}
	return []results.TestsuiteResult{{Name: tr.Plan, Arch: tr.Arch, Result: res}}
}

type row struct {
	uuid, target, arch, plan, planResult, test, testResult string
}

// Flat lists every task, its plans and, with Level2, its test cases.
func Flat(rs *results.ResultSet, o Options) table.Writer {
	tw := table.NewWriter()
	header := table.Row{"UUID", "Target"}
	if o.ShowArch {
		header = append(header, "Arch")
	}
	header = append(header, "Test Plan", "Plan Result")
	if o.Level2 {
		header = append(header, "Test Case", "Test Result")
	}
	tw.AppendHeader(header)

	add := func(r row) {
		out := table.Row{r.uuid, r.target}
		if o.ShowArch {
			out = append(out, r.arch)
		}
		out = append(out, r.plan, r.planResult)
		if o.Level2 {
			out = append(out, r.test, r.testResult)
		}
		tw.AppendRow(out)
	}

	idx := o.splitIndex()
	for _, tr := range rs.Tasks {
		add(row{uuid: tr.UUID, target: tr.TargetName})
		lastArch := ""
		for _, s := range suites(tr) {
			if o.ShowArch && s.Arch != lastArch {
				lastArch = s.Arch
				add(row{arch: lastArch})
			}
			add(row{plan: o.colorize(s.Result, SplitName(s.Name, idx)), planResult: o.colorize(s.Result, "")})
			if !o.Level2 {
				continue
			}
			for _, tc := range s.Testcases {
				add(row{test: o.colorize(tc.Result, SplitName(tc.Name, idx)), testResult: o.colorize(tc.Result, "")})
			}
		}
	}
	return tw
}

// ParseUnify maps both names of each "a=b" pair to the row key "a=b".
func ParseUnify(pairs []string) (map[string]string, error) {
	m := map[string]string{}
	for _, p := range pairs {
		a, b, ok := strings.Cut(p, "=")
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrInvalidUnify, p)
		}
		m[a] = p
		m[b] = p
	}
	return m, nil
}

// Compare puts runs side by side: one row per plan (and per test with
// Level2, sorted by name), one column per task, "-" where a run did not
// report it.
func Compare(rs *results.ResultSet, o Options) (table.Writer, error) {
	unify, err := ParseUnify(o.Unify)
	if err != nil {
		return nil, err
	}
	idx := o.splitIndex()
	planKey := func(name string) string {
		k := SplitName(name, idx)
		if u, ok := unify[k]; ok {
			return u
		}
		return k
	}

	var (
		uuids     []string
		planOrder []string
		plans     = map[string]map[string]string{}
		testOrder = map[string][]string{}
		tests     = map[string]map[string]map[string]string{}
	)
	for _, tr := range rs.Tasks {
		uuids = append(uuids, tr.UUID)
		for _, s := range suites(tr) {
			pk := planKey(s.Name)
			if _, ok := plans[pk]; !ok {
				planOrder = append(planOrder, pk)
				plans[pk] = map[string]string{}
				tests[pk] = map[string]map[string]string{}
			}
			plans[pk][tr.UUID] = s.Result
			for _, tc := range s.Testcases {
				tk := SplitName(tc.Name, idx)
				if _, ok := tests[pk][tk]; !ok {
					testOrder[pk] = append(testOrder[pk], tk)
					tests[pk][tk] = map[string]string{}
				}
				tests[pk][tk][tr.UUID] = tc.Result
			}
		}
	}

	tw := table.NewWriter()
	header := table.Row{"Test Plan"}
	for _, u := range uuids {
		header = append(header, u)
	}
	tw.AppendHeader(header)

	blank := func(first string) table.Row {
		r := table.Row{first}
		for range uuids {
			r = append(r, "")
		}
		return r
	}
	cells := func(first string, byUUID map[string]string) table.Row {
		r := table.Row{first}
		for _, u := range uuids {
			res, ok := byUUID[u]
			if !ok {
				r = append(r, "-")
				continue
			}
			r = append(r, o.colorize(res, ""))
		}
		return r
	}

	for _, pk := range planOrder {
		sort.Strings(testOrder[pk])
	}
	for _, pk := range planOrder {
		if !o.Level2 {
			tw.AppendRow(cells(pk, plans[pk]))
			continue
		}
		tw.AppendRow(blank(pk))
		tw.AppendRow(blank("*"))
		for _, tk := range testOrder[pk] {
			tw.AppendRow(cells("**** "+tk, tests[pk][tk]))
		}
	}
	return tw, nil
}

// Print writes tw to out, or a note when it has no rows.
func Print(out io.Writer, tw table.Writer) {
	if tw.Length() == 0 {
		fmt.Fprintln(out, "Nothing to report!")
		return
	}
	fmt.Fprintln(out, tw.Render())
}
