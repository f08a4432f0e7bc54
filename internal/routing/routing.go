// Package routing picks the business partition a piece of task text belongs
// to. A partition names the project and task databases for one line of
// business.
package routing

import (
	"fmt"
	"regexp"
	"strings"
)

// Partition names.
const (
	Tenant  = "tenant"
	Salon   = "salon"
	Primary = "primary"
)

// Partition is the pair of databases for one line of business.
type Partition struct {
	Name      string `yaml:"-"`
	Label     string `yaml:"label"`
	ProjectDB string `yaml:"project_db"`
	TaskDB    string `yaml:"task_db"`
}

// Config maps partition names to their databases.
type Config struct {
	Tenant  *Partition `yaml:"tenant"`
	Salon   *Partition `yaml:"salon"`
	Primary *Partition `yaml:"primary"`
}

// DefaultConfig returns partitions with labels and no database ids.
func DefaultConfig() *Config {
	return &Config{
		Tenant:  &Partition{Label: "BB House"},
		Salon:   &Partition{Label: "Salon"},
		Primary: &Partition{Label: "LaPure"},
	}
}

var (
	tenantPhrase = regexp.MustCompile(`给租客|为租客|租客需要|房客`)
	salonPhrase  = regexp.MustCompile(`给.*店|为.*店|salon需要|理发店需要|美发店需要`)
	tenantSignal = regexp.MustCompile(`bb\s*house|租赁|房屋|poster\s*code|邮编`)
	salonSignal  = regexp.MustCompile(`理发|美发|沙龙|发廊|门店|发型|染烫|salon`)
	brandSignal  = regexp.MustCompile(`lapure|护肤|护发|面膜|洗发|品牌|电商|海报|官网|小红书|tiktok`)
	officeSignal = regexp.MustCompile(`办公|订购|采购|买|购买|订|进货|补货|用品|物资|设备|耗材`)
)

// signals are the keyword classes found in one message.
type signals struct {
	tenantPhrase bool
	salonPhrase  bool
	tenant       bool
	salon        bool
	brand        bool
	office       bool
}

func detect(text string) signals {
	lower := strings.ToLower(text)
	s := signals{
		tenantPhrase: tenantPhrase.MatchString(lower),
		salonPhrase:  salonPhrase.MatchString(lower),
		brand:        brandSignal.MatchString(lower),
		office:       officeSignal.MatchString(lower),
	}
	s.tenant = tenantSignal.MatchString(lower) || s.tenantPhrase
	s.salon = salonSignal.MatchString(lower) && !s.tenantPhrase
	return s
}

// rule is one step of the routing precedence.
type rule struct {
	name      string
	partition string
	match     func(s signals) bool
}

// Evaluated in order; the first match wins. An explicit salon phrase keeps
// tenant keywords from claiming the message, and an explicit tenant phrase
// keeps salon keywords from claiming it.
var rules = []rule{
	{
		name:      "tenant",
		partition: Tenant,
		match:     func(s signals) bool { return s.tenant && !s.salonPhrase },
	},
	{
		name:      "salon",
		partition: Salon,
		match:     func(s signals) bool { return s.salon },
	},
	{
		name:      "brand",
		partition: Primary,
		match:     func(s signals) bool { return s.brand },
	},
	{
		name:      "office",
		partition: Primary,
		match:     func(s signals) bool { return s.office && !s.tenant && !s.salon },
	},
}

// FallbackRule names the decision taken when no rule matched.
const FallbackRule = "fallback"

// Router resolves text to a configured partition.
type Router struct {
	partitions map[string]Partition
}

// NewRouter creates a Router. The primary partition is required because it
// is the catch-all.
func NewRouter(cfg *Config) (*Router, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Primary == nil {
		return nil, fmt.Errorf("primary partition is required")
	}

	r := &Router{partitions: make(map[string]Partition)}
	for name, p := range map[string]*Partition{Tenant: cfg.Tenant, Salon: cfg.Salon, Primary: cfg.Primary} {
		if p == nil {
			// Unconfigured partitions route to the primary databases.
			p = cfg.Primary
		}
		part := *p
		part.Name = name
		if part.Label == "" {
			part.Label = name
		}
		r.partitions[name] = part
	}
	return r, nil
}

// Pick returns the partition for text. Pick is total and deterministic.
func (r *Router) Pick(text string) Partition {
	p, _ := r.Explain(text)
	return p
}

// Explain returns the partition for text together with the name of the rule
// that selected it.
func (r *Router) Explain(text string) (Partition, string) {
	s := detect(text)
	for _, rl := range rules {
		if rl.match(s) {
			return r.partitions[rl.partition], rl.name
		}
	}
	return r.partitions[Primary], FallbackRule
}

// Partition returns a partition by name.
func (r *Router) Partition(name string) (Partition, bool) {
	p, ok := r.partitions[name]
	return p, ok
}

// Partitions returns every partition in routing order.
func (r *Router) Partitions() []Partition {
	return []Partition{r.partitions[Tenant], r.partitions[Salon], r.partitions[Primary]}
}
