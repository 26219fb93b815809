package cluster

// Member is one entry of the replSetInitiate document.
type Member struct {
	ID          int    `bson:"_id" json:"_id"`
	Host        string `bson:"host" json:"host"`
	ArbiterOnly bool   `bson:"arbiterOnly,omitempty" json:"arbiterOnly,omitempty"`
}

// Config is the membership document submitted once to initiate the set.
type Config struct {
	Name    string   `bson:"_id" json:"_id"`
	Members []Member `bson:"members" json:"members"`
}

func NewConfig(name string, nodes []*Node) Config {
	cfg := Config{Name: name, Members: make([]Member, 0, len(nodes))}
	for _, n := range nodes {
		cfg.Members = append(cfg.Members, Member{
			ID:          n.Index,
			Host:        n.Address(),
			ArbiterOnly: n.Witness(),
		})
	}
	return cfg
}

// Witnesses returns the member ids flagged arbiter-only.
func (c Config) Witnesses() []int {
	var ids []int
	for _, m := range c.Members {
		if m.ArbiterOnly {
			ids = append(ids, m.ID)
		}
	}
	return ids
}
