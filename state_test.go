package mtls12

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAncestorPathRootFirst(t *testing.T) {
	path := ancestorPath(stCertificateVerify)
	require.Equal(t, []stateID{stRoot, stHandshakeRoot, stCertificateVerify}, path)
}

func TestLowestCommonAncestorWithinHandshake(t *testing.T) {
	lca := lowestCommonAncestor(stServerCertificate, stCertificateVerify)
	require.Equal(t, stHandshakeRoot, lca)
}

func TestLowestCommonAncestorAcrossSubtrees(t *testing.T) {
	lca := lowestCommonAncestor(stServerFinished, stEstablished)
	require.Equal(t, stRoot, lca)
}

func TestLowestCommonAncestorSelf(t *testing.T) {
	require.Equal(t, stStart, lowestCommonAncestor(stStart, stStart))
}

// TestTransitionExitEnterOrdering exercises spec.md §9's exact ordering
// property: exit runs child-to-ancestor up to (not including) the LCA,
// then enter runs ancestor-to-child from below the LCA down to next.
func TestTransitionExitEnterOrdering(t *testing.T) {
	var events []string

	saved := nodes
	defer func() { nodes = saved }()

	record := func(name string) func(c *Conn) error {
		return func(c *Conn) error {
			events = append(events, name)
			return nil
		}
	}

	nodes = map[stateID]stateNode{
		stHandshakeRoot:      {onEnter: record("enter:handshake"), onExit: record("exit:handshake")},
		stServerCertificate:  {onEnter: record("enter:ServerCertificate"), onExit: record("exit:ServerCertificate")},
		stCertificateRequest: {onEnter: record("enter:CertificateRequest")},
		stEstablished:        {onEnter: record("enter:Established")},
	}

	c := &Conn{state: stServerCertificate}
	require.NoError(t, c.transition(stCertificateRequest))
	require.Equal(t, []string{"exit:ServerCertificate", "enter:CertificateRequest"}, events)
	require.Equal(t, stCertificateRequest, c.state)

	events = nil
	c.state = stServerCertificate
	require.NoError(t, c.transition(stEstablished))
	require.Equal(t, []string{"exit:ServerCertificate", "exit:handshake", "enter:Established"}, events)
	require.Equal(t, stEstablished, c.state)
}

func TestTransitionPropagatesOnEnterError(t *testing.T) {
	saved := nodes
	defer func() { nodes = saved }()

	boom := errInternal(nil)
	nodes = map[stateID]stateNode{
		stCertificateRequest: {onEnter: func(c *Conn) error { return boom }},
	}

	c := &Conn{state: stServerCertificate}
	err := c.transition(stCertificateRequest)
	require.Equal(t, boom, err)
}
