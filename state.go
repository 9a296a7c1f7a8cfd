package mtls12

// stateID enumerates every node in the handshake state tree, per
// spec.md §4.3/§9. The tree has a synthetic, never-entered root
// (stRoot) with two children: stHandshakeRoot (owns HandshakeContext for
// the duration of the handshake) and stEstablished (a terminal leaf
// sibling outside the handshake). All eight handshake states are flat
// children of stHandshakeRoot.
type stateID int

const (
	stRoot stateID = iota
	stHandshakeRoot
	stStart
	stServerCertificate
	stCertificateRequest
	stServerHelloDone
	stVerifyServerCertificate
	stCertificateVerify
	stChangeCipherSpec
	stServerFinished
	stEstablished
)

func (s stateID) String() string {
	switch s {
	case stRoot:
		return "root"
	case stHandshakeRoot:
		return "handshake"
	case stStart:
		return "Start"
	case stServerCertificate:
		return "ServerCertificate"
	case stCertificateRequest:
		return "CertificateRequest"
	case stServerHelloDone:
		return "ServerHelloDone"
	case stVerifyServerCertificate:
		return "VerifyServerCertificate"
	case stCertificateVerify:
		return "CertificateVerify"
	case stChangeCipherSpec:
		return "ChangeCipherSpec"
	case stServerFinished:
		return "ServerFinished"
	case stEstablished:
		return "Established"
	default:
		return "unknown"
	}
}

// parentOf encodes the state tree at compile time.
var parentOf = map[stateID]stateID{
	stHandshakeRoot:           stRoot,
	stEstablished:             stRoot,
	stStart:                   stHandshakeRoot,
	stServerCertificate:       stHandshakeRoot,
	stCertificateRequest:      stHandshakeRoot,
	stServerHelloDone:         stHandshakeRoot,
	stVerifyServerCertificate: stHandshakeRoot,
	stCertificateVerify:       stHandshakeRoot,
	stChangeCipherSpec:        stHandshakeRoot,
	stServerFinished:          stHandshakeRoot,
}

// stateNode is the uniform handler capability spec.md §9 asks for in
// place of prototype-chain walking: an enter/exit hook pair plus a
// message handler, keyed by stateID in the package-level nodes table.
type stateNode struct {
	onEnter   func(c *Conn) error
	onExit    func(c *Conn) error
	onMessage func(c *Conn, ct ContentType, raw []byte) error
}

// ancestorPath returns s and each of its ancestors, root first.
func ancestorPath(s stateID) []stateID {
	var rev []stateID
	for cur := s; ; {
		rev = append(rev, cur)
		parent, ok := parentOf[cur]
		if !ok {
			break
		}
		cur = parent
	}
	path := make([]stateID, len(rev))
	for i, v := range rev {
		path[len(rev)-1-i] = v
	}
	return path
}

// lowestCommonAncestor returns the deepest state that is an ancestor of
// (or equal to) both a and b.
func lowestCommonAncestor(a, b stateID) stateID {
	pa, pb := ancestorPath(a), ancestorPath(b)
	lca := stRoot
	for i := 0; i < len(pa) && i < len(pb); i++ {
		if pa[i] != pb[i] {
			break
		}
		lca = pa[i]
	}
	return lca
}

// transition implements spec.md §9's testable property: exit runs on the
// current state and its ancestors up to (not including) the LCA with
// next, in child-to-ancestor order; enter then runs on next's ancestors
// below the LCA down to next, in ancestor-to-child order.
func (c *Conn) transition(next stateID) error {
	lca := lowestCommonAncestor(c.state, next)

	for cur := c.state; cur != lca; cur = parentOf[cur] {
		if node, ok := nodes[cur]; ok && node.onExit != nil {
			if err := node.onExit(c); err != nil {
				return err
			}
		}
	}

	enterPath := ancestorPath(next)
	start := 0
	for i, s := range enterPath {
		if s == lca {
			start = i + 1
			break
		}
	}
	for _, s := range enterPath[start:] {
		c.state = s
		if node, ok := nodes[s]; ok && node.onEnter != nil {
			if err := node.onEnter(c); err != nil {
				return err
			}
		}
	}
	c.state = next
	return nil
}
