package assembly

import (
	"errors"

	"lepm/internal/model"
	"lepm/internal/repository/network"
)

// Node registry: one connectivity node per (pole, line) pair, created at the
// pole's coordinates on first use. Joint suspension (a second line hanging
// on the same physical pole) yields a second node on that pole, never a
// shared one.

// nodeForPole returns the line's connectivity node on the given pole,
// creating it if needed. For a mirror presence of a shared pole, the node
// lives on the physical pole the mirror references.
func (m *mutation) nodeForPole(pole *model.Pole) (*model.ConnectivityNode, error) {
	physID := pole.ID
	if pole.SharedPoleID != nil {
		physID = *pole.SharedPoleID
	}
	if n := m.g.NodeForPole(physID); n != nil {
		return n, nil
	}

	if physID != pole.ID {
		phys, err := m.tx.GetPole(m.ctx, physID)
		if err != nil {
			if errors.Is(err, network.ErrNotFound) {
				return nil, model.NotFoundf("shared pole %d does not exist", physID)
			}
			return nil, model.Internalf(err, "load shared pole %d", physID)
		}
		if phys.LineID == m.g.Line.ID {
			return nil, model.InvalidArgumentf("pole %s already belongs to line %s", phys.PoleNumber, m.g.Line.Name)
		}
		if !m.e.cfg.AllowJointSuspension {
			return nil, model.InvalidArgumentf("pole %s belongs to another line and joint suspension is disabled", phys.PoleNumber)
		}
		// A node at a tap or branch is an electrical break, never shared.
		if phys.IsTapPole {
			return nil, model.Conflictf("pole %s is a tap pole and cannot carry joint suspension", phys.PoleNumber)
		}
	}

	lineID := m.g.Line.ID
	n := &model.ConnectivityNode{
		Name:   pole.PoleNumber,
		LineID: &lineID,
		PoleID: &physID,
		X:      pole.X,
		Y:      pole.Y,
	}
	if err := m.addNode(n); err != nil {
		return nil, err
	}
	return m.g.NodeByID(n.ID), nil
}

// nodeForSubstation returns the substation's connectivity node, creating it
// on first call. The node belongs to no line and no pole.
func (m *mutation) nodeForSubstation(sub *model.Substation) (*model.ConnectivityNode, error) {
	n, err := m.tx.NodeForSubstation(m.ctx, sub.ID)
	if err == nil {
		// Keep it visible in the working graph for naming and terminals.
		if m.g.NodeByID(n.ID) == nil {
			m.g.Nodes = append(m.g.Nodes, *n)
		}
		return m.g.NodeByID(n.ID), nil
	}
	if !errors.Is(err, network.ErrNotFound) {
		return nil, model.Internalf(err, "load substation node")
	}
	subID := sub.ID
	created := &model.ConnectivityNode{
		Name:         sub.Display(),
		SubstationID: &subID,
		X:            sub.X,
		Y:            sub.Y,
	}
	if err := m.addNode(created); err != nil {
		return nil, err
	}
	return m.g.NodeByID(created.ID), nil
}
