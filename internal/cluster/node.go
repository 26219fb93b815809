package cluster

import (
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/danmuck/replctl/internal/console"
)

var (
	ErrInvalidSize      = errors.New("cluster: set size must be at least 1")
	ErrInvalidWitnesses = errors.New("cluster: witnesses must be less than set size")
	ErrInvalidPort      = errors.New("cluster: port range out of bounds")
)

// Role is a member's replication role.
type Role string

const (
	RoleVoting  Role = "voting"
	RoleWitness Role = "witness"
)

// Layout is the shape of a local replica set before any process exists.
type Layout struct {
	Name      string
	Host      string
	BasePort  int
	DataDir   string
	Size      int
	Witnesses int
}

func (l Layout) Validate() error {
	if l.Size < 1 {
		return ErrInvalidSize
	}
	if l.Witnesses < 0 || l.Witnesses >= l.Size {
		return fmt.Errorf("%w: witnesses=%d size=%d", ErrInvalidWitnesses, l.Witnesses, l.Size)
	}
	if l.BasePort < 1 || l.BasePort+l.Size-1 > 65535 {
		return fmt.Errorf("%w: base=%d size=%d", ErrInvalidPort, l.BasePort, l.Size)
	}
	if strings.TrimSpace(l.Name) == "" {
		return errors.New("cluster: replica set name is required")
	}
	return nil
}

// Handle is the supervisor-owned view of a running node process.
type Handle interface {
	PID() int
	ExitStatus() (code int, exited bool)
}

// Node describes one member of the set. Everything but the process
// handle is fixed at construction.
type Node struct {
	Index  int
	Role   Role
	Host   string
	Port   int
	DBPath string
	Prefix string

	mu     sync.Mutex
	handle Handle
}

// BuildDescriptors creates one node per slot. Witnesses take the lowest
// indexes so the last node is always a voting member.
func BuildDescriptors(l Layout) ([]*Node, error) {
	if err := l.Validate(); err != nil {
		return nil, err
	}
	host := strings.TrimSpace(l.Host)
	if host == "" {
		host = "localhost"
	}
	nodes := make([]*Node, 0, l.Size)
	for i := 0; i < l.Size; i++ {
		n := &Node{
			Index:  i,
			Role:   RoleVoting,
			Host:   host,
			Port:   l.BasePort + i,
			DBPath: filepath.Join(l.DataDir, "rs_"+strconv.Itoa(i)),
		}
		if i < l.Witnesses {
			n.Role = RoleWitness
			n.Prefix = "A" + strconv.Itoa(i)
		} else {
			n.Prefix = "R" + strconv.Itoa(i-l.Witnesses)
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

func (n *Node) Address() string {
	return net.JoinHostPort(n.Host, strconv.Itoa(n.Port))
}

// Label is the colorized stream prefix for this node.
func (n *Node) Label() string {
	return console.Label(n.Index, n.Prefix)
}

func (n *Node) Witness() bool {
	return n.Role == RoleWitness
}

func (n *Node) SetHandle(h Handle) {
	n.mu.Lock()
	n.handle = h
	n.mu.Unlock()
}

// Handle returns the process handle, or nil before spawn.
func (n *Node) Handle() Handle {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.handle
}

func (n *Node) String() string {
	return fmt.Sprintf("%s(%s %s)", n.Prefix, n.Role, n.Address())
}

// Addresses returns host:port for every node in order.
func Addresses(nodes []*Node) []string {
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.Address())
	}
	return out
}

// LastVoting returns the last voting member, the conventional initiate
// target: its seed list already names every peer.
func LastVoting(nodes []*Node) (*Node, bool) {
	for i := len(nodes) - 1; i >= 0; i-- {
		if !nodes[i].Witness() {
			return nodes[i], true
		}
	}
	return nil, false
}
