package roles

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drfirst/rxchain/internal/ledger"
	"github.com/drfirst/rxchain/pkg/merkle"
)

func addr(b byte) ledger.Address {
	var a ledger.Address
	a[0] = 0x5e
	a[19] = b
	return a
}

func TestRegistryMembership(t *testing.T) {
	members := []ledger.Address{addr(1), addr(2), addr(3)}
	tree := BuildTree(members)
	admin := addr(100)
	reg := NewDoctors(addr(200), admin, tree.Root())

	for _, m := range members {
		proof, ok := tree.Proof(Leaf(m))
		require.True(t, ok)
		assert.True(t, reg.IsDoctor(m, proof))
	}

	proof, _ := tree.Proof(Leaf(addr(1)))
	assert.False(t, reg.IsDoctor(addr(9), proof))
	assert.False(t, reg.IsDoctor(addr(9), nil))
}

func TestSetMerkleRoot(t *testing.T) {
	l := ledger.New()
	admin := addr(100)
	regAddr := l.Deploy(admin, "patients")

	before := BuildTree([]ledger.Address{addr(1), addr(2)})
	after := BuildTree([]ledger.Address{addr(2), addr(3)})
	reg := NewPatients(regAddr, admin, before.Root())

	oldProof, _ := before.Proof(Leaf(addr(2)))
	require.True(t, reg.IsPatient(addr(2), oldProof))

	t.Run("non owner is rejected", func(t *testing.T) {
		intruder := addr(1)
		receipt, err := l.Execute(context.Background(), ledger.Msg{From: intruder, To: regAddr}, func(tx *ledger.Tx) error {
			return reg.SetMerkleRoot(tx, after.Root())
		})
		var unauthorized *UnauthorizedAccountError
		require.ErrorAs(t, err, &unauthorized)
		assert.Equal(t, intruder, unauthorized.Account)
		assert.Empty(t, receipt.Events)
		assert.Equal(t, before.Root(), reg.MerkleRoot())
	})

	t.Run("owner rotates", func(t *testing.T) {
		receipt, err := l.Execute(context.Background(), ledger.Msg{From: admin, To: regAddr}, func(tx *ledger.Tx) error {
			return reg.SetMerkleRoot(tx, after.Root())
		})
		require.NoError(t, err)
		assert.Equal(t, after.Root(), reg.MerkleRoot())

		events := receipt.EventsOfType(string(EventUpdatedMerkleRoot))
		require.Len(t, events, 1)
		var data UpdatedMerkleRootData
		require.NoError(t, events[0].Decode(&data))
		assert.Equal(t, RolePatient, data.Role)
		assert.Equal(t, after.Root(), data.Root)
		assert.Equal(t, before.Root(), data.Previous)

		// stale proof no longer validates, fresh one does
		assert.False(t, reg.IsPatient(addr(2), oldProof))
		newProof, _ := after.Proof(Leaf(addr(2)))
		assert.True(t, reg.IsPatient(addr(2), newProof))
	})
}

func TestTransferOwnership(t *testing.T) {
	l := ledger.New()
	admin, next := addr(100), addr(101)
	regAddr := l.Deploy(admin, "users")
	reg := NewUsers(regAddr, admin, merkle.Hash{})

	_, err := l.Execute(context.Background(), ledger.Msg{From: admin, To: regAddr}, func(tx *ledger.Tx) error {
		return reg.TransferOwnership(tx, ledger.ZeroAddress)
	})
	var invalid *InvalidOwnerError
	require.ErrorAs(t, err, &invalid)

	_, err = l.Execute(context.Background(), ledger.Msg{From: admin, To: regAddr}, func(tx *ledger.Tx) error {
		return reg.TransferOwnership(tx, next)
	})
	require.NoError(t, err)
	assert.Equal(t, next, reg.Owner())

	_, err = l.Execute(context.Background(), ledger.Msg{From: admin, To: regAddr}, func(tx *ledger.Tx) error {
		return reg.SetMerkleRoot(tx, merkle.Leaf([]byte("x")))
	})
	var unauthorized *UnauthorizedAccountError
	assert.ErrorAs(t, err, &unauthorized)
}

func TestManager(t *testing.T) {
	l := ledger.New()
	admin := addr(100)
	mgrAddr := l.Deploy(admin, "authorization-manager")

	doctors := BuildTree([]ledger.Address{addr(1)})
	patients := BuildTree([]ledger.Address{addr(2), addr(3)})
	pharmacies := BuildTree([]ledger.Address{addr(4), addr(5), addr(6)})
	m := NewManager(mgrAddr, admin, ManagerRoots{
		Doctors:    doctors.Root(),
		Patients:   patients.Root(),
		Pharmacies: pharmacies.Root(),
	})

	assert.True(t, m.IsDoctor(addr(1), nil))
	p, _ := patients.Proof(Leaf(addr(3)))
	assert.True(t, m.IsPatient(addr(3), p))
	assert.False(t, m.IsPharmacy(addr(3), p))

	_, err := l.Execute(context.Background(), ledger.Msg{From: addr(1), To: mgrAddr}, func(tx *ledger.Tx) error {
		return m.SetPharmaciesMerkleRoot(tx, merkle.Hash{})
	})
	var unauthorized *UnauthorizedAccountError
	require.ErrorAs(t, err, &unauthorized)
	assert.Equal(t, pharmacies.Root(), m.PharmaciesMerkleRoot())

	rotated := BuildTree([]ledger.Address{addr(7)})
	_, err = l.Execute(context.Background(), ledger.Msg{From: admin, To: mgrAddr}, func(tx *ledger.Tx) error {
		return m.SetDoctorsMerkleRoot(tx, rotated.Root())
	})
	require.NoError(t, err)
	assert.Equal(t, rotated.Root(), m.DoctorsMerkleRoot())
	assert.False(t, m.IsDoctor(addr(1), nil))
	assert.True(t, m.IsDoctor(addr(7), nil))

	checker, ok := m.Checker(RolePatient)
	require.True(t, ok)
	assert.True(t, checker.IsMember(addr(3), p))
	_, ok = m.Checker(RoleUser)
	assert.False(t, ok)
}

func TestParseRole(t *testing.T) {
	r, err := ParseRole("pharmacies")
	require.NoError(t, err)
	assert.Equal(t, RolePharmacy, r)
	_, err = ParseRole("laboratory")
	assert.Error(t, err)
}
