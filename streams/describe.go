package streams

import (
	"fmt"
	"sort"
	"strings"

	"github.com/awalterschulze/gographviz"
	"github.com/gmbyapa/kenrich/streams/processors"
)

type describedNode struct {
	id    string
	label string
	attrs map[string]string
	topic bool
}

type describedEdge struct {
	from, to string
	dashed   bool
}

// nodes returns the pipeline stages in processing order.
func (p *Pipeline) nodes() ([]describedNode, []describedEdge) {
	topic := func(name string) describedNode {
		return describedNode{id: `topic_` + name, label: name, topic: true}
	}
	proc := func(id string, typ processors.Type) describedNode {
		return describedNode{id: id, label: typ.Name, attrs: typ.Attrs}
	}

	cfg := p.config
	nodes := []describedNode{topic(cfg.Topics.Events), topic(cfg.Topics.Table)}
	var edges []describedEdge

	last := `topic_` + cfg.Topics.Events
	if p.filter != nil {
		nodes = append(nodes, proc(`filter`, p.filter.Type()))
		edges = append(edges, describedEdge{from: last, to: `filter`})
		last = `filter`
	}

	if cfg.Topics.Filtered != `` {
		nodes = append(nodes, topic(cfg.Topics.Filtered))
		edges = append(edges, describedEdge{from: last, to: `topic_` + cfg.Topics.Filtered})
	}
	afterFilter := last

	nodes = append(nodes, proc(`join`, p.joiner.Type()))
	edges = append(edges,
		describedEdge{from: last, to: `join`},
		describedEdge{from: `topic_` + cfg.Topics.Table, to: `join`, dashed: true},
	)
	last = `join`

	if p.outputKey != nil {
		nodes = append(nodes, proc(`output_key`, p.outputKey.Type()))
		edges = append(edges, describedEdge{from: `join`, to: `output_key`})
		last = `output_key`
	}

	nodes = append(nodes, topic(cfg.Topics.Enriched))
	edges = append(edges, describedEdge{from: last, to: `topic_` + cfg.Topics.Enriched})

	aggFrom := `join`
	if cfg.Aggregate.Input == AggregateFiltered {
		aggFrom = afterFilter
	}

	agg := proc(`aggregate`, p.aggregator.Type())
	agg.attrs = mergeAttrs(agg.attrs, map[string]string{
		`shards`: fmt.Sprint(cfg.Processing.AggregatorShards),
		`input`:  cfg.Aggregate.Input.String(),
	})

	nodes = append(nodes, proc(`rekey`, p.rekey.Type()), agg, topic(cfg.Topics.Aggregates))
	edges = append(edges,
		describedEdge{from: aggFrom, to: `rekey`},
		describedEdge{from: `rekey`, to: `aggregate`},
		describedEdge{from: `aggregate`, to: `topic_` + cfg.Topics.Aggregates},
	)

	return nodes, edges
}

// Describe returns a text description of the pipeline stages.
func (p *Pipeline) Describe() string {
	nodes, edges := p.nodes()
	labels := map[string]string{}
	for _, n := range nodes {
		labels[n.id] = n.String()
	}

	b := new(strings.Builder)
	fmt.Fprintf(b, "Pipeline: %s\n", p.config.ApplicationId)
	for _, e := range edges {
		arrow := `-->`
		if e.dashed {
			arrow = `..>`
		}
		fmt.Fprintf(b, "  %s %s %s\n", labels[e.from], arrow, labels[e.to])
	}

	return b.String()
}

func (n describedNode) String() string {
	if n.topic {
		return fmt.Sprintf(`[%s]`, n.label)
	}

	if len(n.attrs) < 1 {
		return n.label
	}

	keys := make([]string, 0, len(n.attrs))
	for k := range n.attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	attrs := make([]string, 0, len(keys))
	for _, k := range keys {
		attrs = append(attrs, fmt.Sprintf(`%s=%s`, k, n.attrs[k]))
	}

	return fmt.Sprintf(`%s(%s)`, n.label, strings.Join(attrs, `, `))
}

// Visualize returns the pipeline as a graphviz dot graph.
func (p *Pipeline) Visualize() (string, error) {
	parent := `root`
	g := gographviz.NewGraph()
	if err := g.SetName(parent); err != nil {
		return ``, err
	}

	if err := g.SetDir(true); err != nil {
		return ``, err
	}

	if err := g.AddAttr(parent, `splines`, `true`); err != nil {
		return ``, err
	}

	nodes, edges := p.nodes()
	for _, n := range nodes {
		attrs := map[string]string{
			`label`:    fmt.Sprintf(`"%s"`, n.String()),
			`fontsize`: `11`,
		}

		if n.topic {
			attrs[`fillcolor`] = `darkseagreen1`
			attrs[`shape`] = `box`
			attrs[`style`] = `"rounded,filled"`
		} else {
			attrs[`shape`] = `ellipse`
		}

		if err := g.AddNode(parent, quote(n.id), attrs); err != nil {
			return ``, err
		}
	}

	for _, e := range edges {
		var attrs map[string]string
		if e.dashed {
			attrs = map[string]string{`style`: `dashed`}
		}

		if err := g.AddEdge(quote(e.from), quote(e.to), true, attrs); err != nil {
			return ``, err
		}
	}

	return g.String(), nil
}

func quote(id string) string {
	return fmt.Sprintf(`"%s"`, id)
}

func mergeAttrs(a, b map[string]string) map[string]string {
	out := make(map[string]string, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}

	for k, v := range b {
		out[k] = v
	}

	return out
}
