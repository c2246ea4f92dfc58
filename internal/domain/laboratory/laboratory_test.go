package laboratory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drfirst/rxchain/internal/domain/roles"
	"github.com/drfirst/rxchain/internal/ledger"
	"github.com/drfirst/rxchain/pkg/merkle"
)

func addr(b byte) ledger.Address {
	var a ledger.Address
	a[0] = 0x1a
	a[19] = b
	return a
}

var (
	admin     = addr(1)
	pharmacy  = addr(30)
	pharmacy2 = addr(31)
	patient   = addr(20)
)

type fixture struct {
	ledger *ledger.Ledger
	lab    *Laboratory
	tree   *merkle.Tree
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	l := ledger.New()
	tree := roles.BuildTree([]ledger.Address{pharmacy, pharmacy2})
	pharmacies := roles.NewPharmacies(l.Deploy(admin, "pharmacies"), admin, tree.Root())
	lab := New(l.Deploy(admin, "laboratory"), admin, DefaultBaseURI, pharmacies)

	require.NoError(t, l.Fund(pharmacy, 1_000_000))
	f := &fixture{ledger: l, lab: lab, tree: tree}
	_, err := f.exec(admin, 0, func(tx *ledger.Tx) error {
		return lab.AddOrUpdateMedications(tx, []Medication{
			{ID: 1, Name: "Amoxicillin", Price: 1000, Rate: 60},
			{ID: 2, Name: "Ibuprofen", Price: 250, Rate: 30},
		})
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) exec(from ledger.Address, value uint64, fn func(tx *ledger.Tx) error) (*ledger.Receipt, error) {
	return f.ledger.Execute(context.Background(), ledger.Msg{From: from, To: f.lab.Address(), Value: value}, fn)
}

func (f *fixture) proof(a ledger.Address) []merkle.Hash {
	p, _ := f.tree.Proof(roles.Leaf(a))
	return p
}

func (f *fixture) mint(from ledger.Address, value uint64, ids, qtys []uint64) (*ledger.Receipt, error) {
	return f.exec(from, value, func(tx *ledger.Tx) error {
		return f.lab.MintMedications(tx, ids, qtys, f.proof(from))
	})
}

func TestCatalog(t *testing.T) {
	f := newFixture(t)

	m, ok := f.lab.MedicationData(1)
	require.True(t, ok)
	assert.Equal(t, "Amoxicillin", m.Name)

	_, err := f.exec(pharmacy, 0, func(tx *ledger.Tx) error {
		return f.lab.AddOrUpdateMedicationData(tx, Medication{ID: 3, Name: "X", Price: 1})
	})
	var unauthorized *roles.UnauthorizedAccountError
	require.ErrorAs(t, err, &unauthorized)

	receipt, err := f.exec(admin, 0, func(tx *ledger.Tx) error {
		return f.lab.AddOrUpdateMedicationData(tx, Medication{ID: 1, Name: "Amoxicillin", Price: 1200, Rate: 60})
	})
	require.NoError(t, err)
	require.Len(t, receipt.EventsOfType(string(EventMedicationDataUpdated)), 1)
	m, _ = f.lab.MedicationData(1)
	assert.Equal(t, uint64(1200), m.Price)

	receipt, err = f.exec(admin, 0, func(tx *ledger.Tx) error {
		return f.lab.AddOrUpdateMedications(tx, []Medication{
			{ID: 1, Name: "Amoxicillin", Price: 1100, Rate: 50},
			{ID: 7, Name: "Paracetamol", Price: 300, Rate: 10},
		})
	})
	require.NoError(t, err)
	updated := receipt.EventsOfType(string(EventMedicationDataUpdated))
	require.Len(t, updated, 2)
	var entry MedicationDataUpdatedData
	require.NoError(t, updated[1].Decode(&entry))
	assert.Equal(t, Medication{ID: 7, Name: "Paracetamol", Price: 300, Rate: 10}, entry.Medication)
	var list MedicationListUpdatedData
	require.NoError(t, receipt.EventsOfType(string(EventMedicationListUpdated))[0].Decode(&list))
	assert.Equal(t, []uint64{1, 7}, list.IDs)

	tooMany := make([]Medication, MaxItems+1)
	for i := range tooMany {
		tooMany[i] = Medication{ID: uint64(i), Name: "m"}
	}
	_, err = f.exec(admin, 0, func(tx *ledger.Tx) error { return f.lab.AddOrUpdateMedications(tx, tooMany) })
	assert.ErrorIs(t, err, ErrTooManyItems)
	assert.Len(t, f.lab.Medications(), 3)
}

func TestCalculateTotalPrice(t *testing.T) {
	f := newFixture(t)

	total, err := f.lab.CalculateTotalPrice([]uint64{1, 2, 99}, []uint64{2, 4, 7})
	require.NoError(t, err)
	assert.Equal(t, uint64(3000), total)

	_, err = f.lab.CalculateTotalPrice([]uint64{1, 2}, []uint64{1})
	assert.ErrorIs(t, err, ErrArrayLengthMismatch)

	_, err = f.lab.CalculateTotalPrice([]uint64{1}, []uint64{^uint64(0)})
	assert.ErrorIs(t, err, ledger.ErrOverflow)
}

func TestMintMedications(t *testing.T) {
	t.Run("exact payment", func(t *testing.T) {
		f := newFixture(t)
		receipt, err := f.mint(pharmacy, 2000, []uint64{1}, []uint64{2})
		require.NoError(t, err)
		assert.Equal(t, uint64(2), f.lab.BalanceOf(pharmacy, 1))
		assert.Equal(t, uint64(1_000_000-2000), f.ledger.BalanceOf(pharmacy))
		assert.Equal(t, uint64(2000), f.ledger.BalanceOf(f.lab.Address()))

		minted := receipt.EventsOfType(string(EventMedicationMinted))
		require.Len(t, minted, 1)
		var data MedicationMintedData
		require.NoError(t, minted[0].Decode(&data))
		assert.Equal(t, MedicationMintedData{TotalPrice: 2000, Caller: pharmacy}, data)
		assert.Len(t, receipt.EventsOfType(string(EventTransferBatch)), 1)
	})

	t.Run("excess is refunded", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.mint(pharmacy, 2001, []uint64{1}, []uint64{2})
		require.NoError(t, err)
		assert.Equal(t, uint64(2), f.lab.BalanceOf(pharmacy, 1))
		assert.Equal(t, uint64(1_000_000-2000), f.ledger.BalanceOf(pharmacy))
		assert.Equal(t, uint64(2000), f.ledger.BalanceOf(f.lab.Address()))
	})

	t.Run("insufficient payment", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.mint(pharmacy, 1999, []uint64{1}, []uint64{2})
		assert.ErrorIs(t, err, ErrInsufficientPayment)
		assert.Zero(t, f.lab.BalanceOf(pharmacy, 1))
		assert.Equal(t, uint64(1_000_000), f.ledger.BalanceOf(pharmacy))
	})

	t.Run("only pharmacies", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.ledger.Fund(patient, 5000))
		_, err := f.mint(patient, 2000, []uint64{1}, []uint64{2})
		assert.ErrorIs(t, err, ErrOnlyPharmaciesMint)
	})

	t.Run("reentrant refund is rejected", func(t *testing.T) {
		f := newFixture(t)
		f.ledger.SetReceiver(pharmacy, func(tx *ledger.Tx, from ledger.Address, amount uint64) error {
			return tx.Call(from, 0, func(inner *ledger.Tx) error {
				return f.lab.MintMedications(inner, []uint64{2}, []uint64{1}, f.proof(pharmacy))
			})
		})
		_, err := f.mint(pharmacy, 2500, []uint64{1}, []uint64{2})
		assert.ErrorIs(t, err, ledger.ErrReentrantCall)
		assert.Zero(t, f.lab.BalanceOf(pharmacy, 1))
		assert.Equal(t, uint64(1_000_000), f.ledger.BalanceOf(pharmacy))
	})
}

func TestSafeBatchTransferFrom(t *testing.T) {
	f := newFixture(t)
	_, err := f.mint(pharmacy, 2*1000+3*250, []uint64{1, 2}, []uint64{2, 3})
	require.NoError(t, err)
	operator := addr(77)

	transfer := func(from ledger.Address, ids, values []uint64) error {
		_, err := f.ledger.Execute(context.Background(), ledger.Msg{From: operator, To: f.lab.Address()}, func(tx *ledger.Tx) error {
			return f.lab.SafeBatchTransferFrom(tx, from, patient, ids, values)
		})
		return err
	}

	// approval is checked before balances
	var missing *MissingApprovalForAllError
	require.ErrorAs(t, transfer(pharmacy, []uint64{1}, []uint64{100}), &missing)
	assert.Equal(t, operator, missing.Operator)
	assert.Equal(t, pharmacy, missing.Owner)

	_, err = f.exec(pharmacy, 0, func(tx *ledger.Tx) error { return f.lab.SetApprovalForAll(tx, operator, true) })
	require.NoError(t, err)
	assert.True(t, f.lab.IsApprovedForAll(pharmacy, operator))

	var insufficient *InsufficientBalanceError
	require.ErrorAs(t, transfer(pharmacy, []uint64{1, 2}, []uint64{1, 4}), &insufficient)
	assert.Equal(t, uint64(2), insufficient.TokenID)
	// the partial move of id 1 was rolled back
	assert.Equal(t, uint64(2), f.lab.BalanceOf(pharmacy, 1))

	var length *InvalidArrayLengthError
	require.ErrorAs(t, transfer(pharmacy, []uint64{1, 2}, []uint64{1}), &length)

	require.NoError(t, transfer(pharmacy, []uint64{1, 2}, []uint64{1, 3}))
	balances, err := f.lab.BalanceOfBatch(
		[]ledger.Address{pharmacy, pharmacy, patient, patient},
		[]uint64{1, 2, 1, 2},
	)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 0, 1, 3}, balances)
}

func TestSafeTransferFromOwner(t *testing.T) {
	f := newFixture(t)
	_, err := f.mint(pharmacy, 1000, []uint64{1}, []uint64{1})
	require.NoError(t, err)

	_, err = f.exec(pharmacy, 0, func(tx *ledger.Tx) error {
		return f.lab.SafeTransferFrom(tx, pharmacy, ledger.ZeroAddress, 1, 1)
	})
	var invalid *InvalidReceiverError
	require.ErrorAs(t, err, &invalid)

	receipt, err := f.exec(pharmacy, 0, func(tx *ledger.Tx) error {
		return f.lab.SafeTransferFrom(tx, pharmacy, pharmacy2, 1, 1)
	})
	require.NoError(t, err)
	assert.Len(t, receipt.EventsOfType(string(EventTransferSingle)), 1)
	assert.Equal(t, uint64(1), f.lab.BalanceOf(pharmacy2, 1))
}

func TestSetApprovalForAllZeroOperator(t *testing.T) {
	f := newFixture(t)
	_, err := f.exec(pharmacy, 0, func(tx *ledger.Tx) error {
		return f.lab.SetApprovalForAll(tx, ledger.ZeroAddress, true)
	})
	var invalid *InvalidOperatorError
	assert.ErrorAs(t, err, &invalid)
}

func TestSetPharmacyRegistry(t *testing.T) {
	f := newFixture(t)
	rotated := roles.NewPharmacies(f.ledger.Deploy(admin, "pharmacies-v2"), admin, roles.Leaf(pharmacy2))

	_, err := f.exec(pharmacy, 0, func(tx *ledger.Tx) error { return f.lab.SetPharmacyRegistry(tx, rotated) })
	var unauthorized *roles.UnauthorizedAccountError
	require.ErrorAs(t, err, &unauthorized)

	receipt, err := f.exec(admin, 0, func(tx *ledger.Tx) error { return f.lab.SetPharmacyRegistry(tx, rotated) })
	require.NoError(t, err)
	assert.Equal(t, rotated.Address(), f.lab.PharmacyRegistryAddress())
	require.Len(t, receipt.EventsOfType(string(EventPharmacyContractAddressSet)), 1)

	// pharmacy is no longer on the active whitelist
	_, err = f.mint(pharmacy, 1000, []uint64{1}, []uint64{1})
	assert.ErrorIs(t, err, ErrOnlyPharmaciesMint)
}

func TestURI(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, "ipfs://1.json", f.lab.URI(1))
	_, err := f.exec(admin, 0, func(tx *ledger.Tx) error { return f.lab.SetBaseURI(tx, "https://lab.example/") })
	require.NoError(t, err)
	assert.Equal(t, "https://lab.example/7.json", f.lab.URI(7))
}
