package simulator

// A Switcher decides how fast data flows between nodes
// that are transmitting at the same time, and in
// particular what happens when a link is oversubscribed.
type Switcher interface {
	// SwitchedRates turns a demand matrix into a rate
	// matrix in place.
	//
	// On input, an entry is 1 wherever a node has data
	// pending for another node and 0 elsewhere.
	SwitchedRates(mat *RateMatrix)
}

// A NIC is a network interface shared by one or more
// nodes, identified by their index in the network.
type NIC struct {
	Nodes    []int
	SendRate float64
	RecvRate float64
}

// A GreedyDropSwitcher emulates a switch where each NIC
// spreads its upload rate evenly over the connections
// leaving it, and a NIC that receives more than its
// download rate drops the excess uniformly.
//
// Nodes that share a NIC share its rates, which models
// processes on one host contending for its link.
type GreedyDropSwitcher struct {
	NICs []NIC
}

// NewGreedyDropSwitcher creates a switch where every node
// has a dedicated NIC with the given rate in both
// directions.
func NewGreedyDropSwitcher(numNodes int, rate float64) *GreedyDropSwitcher {
	nics := make([]NIC, numNodes)
	for i := range nics {
		nics[i] = NIC{Nodes: []int{i}, SendRate: rate, RecvRate: rate}
	}
	return &GreedyDropSwitcher{NICs: nics}
}

// NewHostSwitcher creates a switch with one NIC per named
// host, shared by all of the host's nodes.
// Nodes on anonymous hosts get a NIC of their own.
func NewHostSwitcher(nodes []*Node, rate float64) *GreedyDropSwitcher {
	var nics []NIC
	hostNIC := map[string]int{}
	for i, node := range nodes {
		if node.Host != "" {
			if idx, ok := hostNIC[node.Host]; ok {
				nics[idx].Nodes = append(nics[idx].Nodes, i)
				continue
			}
			hostNIC[node.Host] = len(nics)
		}
		nics = append(nics, NIC{Nodes: []int{i}, SendRate: rate, RecvRate: rate})
	}
	return &GreedyDropSwitcher{NICs: nics}
}

// NumNodes counts the nodes attached to the switch.
func (g *GreedyDropSwitcher) NumNodes() int {
	var n int
	for _, nic := range g.NICs {
		n += len(nic.Nodes)
	}
	return n
}

// SwitchedRates performs the switching algorithm.
func (g *GreedyDropSwitcher) SwitchedRates(mat *RateMatrix) {
	if mat.Size() != g.NumNodes() {
		panic("unexpected number of nodes")
	}

	// Every connection leaving a NIC gets an equal share
	// of its upload rate.
	for _, nic := range g.NICs {
		if conns := mat.Outgoing(nic.Nodes); conns > 0 {
			mat.ScaleOutgoing(nic.Nodes, nic.SendRate/conns)
		}
	}

	for _, nic := range g.NICs {
		if incoming := mat.Incoming(nic.Nodes); incoming > nic.RecvRate {
			mat.ScaleIncoming(nic.Nodes, nic.RecvRate/incoming)
		}
	}
}
