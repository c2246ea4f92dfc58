// Package node deploys the contract set onto a ledger from a genesis
// description and keeps the whitelist trees needed to serve proofs.
package node

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/drfirst/rxchain/internal/config"
	"github.com/drfirst/rxchain/internal/domain/laboratory"
	"github.com/drfirst/rxchain/internal/domain/order"
	"github.com/drfirst/rxchain/internal/domain/prescription"
	"github.com/drfirst/rxchain/internal/domain/roles"
	"github.com/drfirst/rxchain/internal/infrastructure/redpanda"
	"github.com/drfirst/rxchain/internal/ledger"
	"github.com/drfirst/rxchain/pkg/merkle"
)

var (
	ErrUnknownRole  = errors.New("unknown role")
	ErrNotWhitelist = errors.New("address is not in the whitelist")
)

// Node is a ledger with the full contract set deployed on it
type Node struct {
	Ledger        *ledger.Ledger
	Admin         ledger.Address
	Doctors       *roles.Doctors
	Patients      *roles.Patients
	Pharmacies    *roles.Pharmacies
	Users         *roles.Users
	Authorization *roles.Manager
	Prescriptions *prescription.Registry
	Laboratory    *laboratory.Laboratory
	Exchange      *order.Exchange

	mu     sync.RWMutex
	trees  map[roles.Role]*merkle.Tree
	logger *zap.Logger
}

type options struct {
	logger *zap.Logger
	sinks  []ledger.ReceiptSink
	ledger []ledger.Option
}

// Option configures New
type Option func(*options)

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithSink attaches a receipt sink before genesis runs, so it also sees the
// catalog seeding transaction
func WithSink(sink ledger.ReceiptSink) Option {
	return func(o *options) { o.sinks = append(o.sinks, sink) }
}

func WithLedgerOption(opt ledger.Option) Option {
	return func(o *options) { o.ledger = append(o.ledger, opt) }
}

// New deploys every contract with admin as deployer and owner, funds the
// genesis accounts and seeds the medication catalog
func New(ctx context.Context, genesis config.GenesisConfig, opts ...Option) (*Node, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}

	admin, err := ledger.ParseAddress(genesis.Admin)
	if err != nil {
		return nil, fmt.Errorf("genesis admin: %w", err)
	}

	members := map[roles.Role][]string{
		roles.RoleDoctor:   genesis.Doctors,
		roles.RolePatient:  genesis.Patients,
		roles.RolePharmacy: genesis.Pharmacies,
		roles.RoleUser:     genesis.Users,
	}
	trees := make(map[roles.Role]*merkle.Tree, len(members))
	for role, list := range members {
		addrs, err := ParseAddresses(list)
		if err != nil {
			return nil, fmt.Errorf("genesis %ss: %w", role, err)
		}
		trees[role] = roles.BuildTree(addrs)
	}

	ledgerOpts := append([]ledger.Option{ledger.WithLogger(o.logger)}, o.ledger...)
	for _, sink := range o.sinks {
		ledgerOpts = append(ledgerOpts, ledger.WithSink(sink))
	}
	l := ledger.New(ledgerOpts...)

	n := &Node{
		Ledger: l,
		Admin:  admin,
		trees:  trees,
		logger: o.logger,
	}
	n.Doctors = roles.NewDoctors(l.Deploy(admin, redpanda.ContractDoctors), admin, trees[roles.RoleDoctor].Root())
	n.Patients = roles.NewPatients(l.Deploy(admin, redpanda.ContractPatients), admin, trees[roles.RolePatient].Root())
	n.Pharmacies = roles.NewPharmacies(l.Deploy(admin, redpanda.ContractPharmacies), admin, trees[roles.RolePharmacy].Root())
	n.Users = roles.NewUsers(l.Deploy(admin, redpanda.ContractUsers), admin, trees[roles.RoleUser].Root())
	n.Authorization = roles.NewManager(l.Deploy(admin, redpanda.ContractAuthorization), admin, roles.ManagerRoots{
		Doctors:    trees[roles.RoleDoctor].Root(),
		Patients:   trees[roles.RolePatient].Root(),
		Pharmacies: trees[roles.RolePharmacy].Root(),
	})
	n.Prescriptions = prescription.NewRegistry(l.Deploy(admin, redpanda.ContractPrescriptions), admin, genesis.PrescriptionBaseURI,
		prescription.Whitelists{
			Doctors:    n.Doctors,
			Patients:   n.Patients,
			Pharmacies: n.Pharmacies,
		})
	labURI := genesis.LaboratoryBaseURI
	if labURI == "" {
		labURI = laboratory.DefaultBaseURI
	}
	n.Laboratory = laboratory.New(l.Deploy(admin, redpanda.ContractLaboratory), admin, labURI, n.Pharmacies)
	n.Exchange = order.NewExchange(l.Deploy(admin, redpanda.ContractExchange), n.Laboratory, order.Whitelists{
		Pharmacies: n.Pharmacies,
		Patients:   n.Patients,
	})

	for _, acct := range genesis.Accounts {
		addr, err := ledger.ParseAddress(acct.Address)
		if err != nil {
			return nil, fmt.Errorf("genesis account: %w", err)
		}
		if err := l.Fund(addr, acct.Balance); err != nil {
			return nil, fmt.Errorf("fund %s: %w", addr, err)
		}
	}

	if len(genesis.Medications) > 0 {
		meds := make([]laboratory.Medication, 0, len(genesis.Medications))
		for _, m := range genesis.Medications {
			meds = append(meds, laboratory.Medication{ID: m.ID, Name: m.Name, Price: m.Price, Rate: m.Rate})
		}
		_, err := l.Execute(ctx, ledger.Msg{From: admin, To: n.Laboratory.Address()}, func(tx *ledger.Tx) error {
			return n.Laboratory.AddOrUpdateMedications(tx, meds)
		})
		if err != nil {
			return nil, fmt.Errorf("seed medications: %w", err)
		}
	}

	n.logger.Info("genesis complete",
		zap.String("admin", admin.Hex()),
		zap.Int("doctors", trees[roles.RoleDoctor].Len()),
		zap.Int("patients", trees[roles.RolePatient].Len()),
		zap.Int("pharmacies", trees[roles.RolePharmacy].Len()),
		zap.Int("medications", len(genesis.Medications)),
	)
	return n, nil
}

// Registry returns the standalone registry of a role
func (n *Node) Registry(role roles.Role) (*roles.Registry, error) {
	switch role {
	case roles.RoleDoctor:
		return n.Doctors.Registry, nil
	case roles.RolePatient:
		return n.Patients.Registry, nil
	case roles.RolePharmacy:
		return n.Pharmacies.Registry, nil
	case roles.RoleUser:
		return n.Users.Registry, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownRole, role)
}

// Proof returns the membership proof of addr in the last whitelist this node
// committed for role
func (n *Node) Proof(role roles.Role, addr ledger.Address) ([]merkle.Hash, error) {
	n.mu.RLock()
	tree, ok := n.trees[role]
	n.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}
	proof, ok := tree.Proof(roles.Leaf(addr))
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotWhitelist, addr)
	}
	return proof, nil
}

// ProofOrEmpty is Proof with non-members mapped to an empty proof, which
// fails verification unless addr is the only member
func (n *Node) ProofOrEmpty(role roles.Role, addr ledger.Address) []merkle.Hash {
	proof, err := n.Proof(role, addr)
	if err != nil {
		return []merkle.Hash{}
	}
	return proof
}

// Root returns the committed root of role
func (n *Node) Root(ctx context.Context, role roles.Role) (merkle.Hash, error) {
	reg, err := n.Registry(role)
	if err != nil {
		return merkle.Hash{}, err
	}
	var root merkle.Hash
	err = n.Read(ctx, func() error {
		root = reg.MerkleRoot()
		return nil
	})
	return root, err
}

// SetWhitelist commits a new member list for role on behalf of sender. The
// registry enforces ownership; the proof tree is swapped only on success.
func (n *Node) SetWhitelist(ctx context.Context, sender ledger.Address, role roles.Role, members []ledger.Address) (*ledger.Receipt, error) {
	tree := roles.BuildTree(members)
	return n.commitRoot(ctx, sender, role, tree.Root(), tree)
}

// SetRoot commits a root computed elsewhere. Proofs for that root are not
// servable by this node until a matching member list is committed.
func (n *Node) SetRoot(ctx context.Context, sender ledger.Address, role roles.Role, root merkle.Hash) (*ledger.Receipt, error) {
	return n.commitRoot(ctx, sender, role, root, nil)
}

// commitRoot swaps the served tree inside the transaction, so trees change in
// the same order as committed roots. A nil tree keeps the current one only
// when it already matches root.
func (n *Node) commitRoot(ctx context.Context, sender ledger.Address, role roles.Role, root merkle.Hash, tree *merkle.Tree) (*ledger.Receipt, error) {
	reg, err := n.Registry(role)
	if err != nil {
		return nil, err
	}
	return n.Ledger.Execute(ctx, ledger.Msg{From: sender, To: reg.Address()}, func(tx *ledger.Tx) error {
		if err := reg.SetMerkleRoot(tx, root); err != nil {
			return err
		}
		n.mu.Lock()
		defer n.mu.Unlock()
		prev, had := n.trees[role]
		switch {
		case tree != nil:
			n.trees[role] = tree
		case had && prev.Root() != root:
			n.trees[role] = merkle.NewTree(nil)
		default:
			return nil
		}
		tx.OnRevert(func() {
			n.mu.Lock()
			defer n.mu.Unlock()
			if had {
				n.trees[role] = prev
				return
			}
			delete(n.trees, role)
		})
		return nil
	})
}

// SetManagerRoot rotates one of the authorization manager's commitments
func (n *Node) SetManagerRoot(ctx context.Context, sender ledger.Address, role roles.Role, root merkle.Hash) (*ledger.Receipt, error) {
	var set func(*ledger.Tx, merkle.Hash) error
	switch role {
	case roles.RoleDoctor:
		set = n.Authorization.SetDoctorsMerkleRoot
	case roles.RolePatient:
		set = n.Authorization.SetPatientsMerkleRoot
	case roles.RolePharmacy:
		set = n.Authorization.SetPharmaciesMerkleRoot
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}
	return n.Ledger.Execute(ctx, ledger.Msg{From: sender, To: n.Authorization.Address()}, func(tx *ledger.Tx) error {
		return set(tx, root)
	})
}

// Read runs fn under the ledger lock without producing a receipt
func (n *Node) Read(ctx context.Context, fn func() error) error {
	return n.Ledger.View(ctx, ledger.Msg{}, func(*ledger.Tx) error { return fn() })
}

// ParseAddresses parses a list of hex addresses
func ParseAddresses(list []string) ([]ledger.Address, error) {
	out := make([]ledger.Address, 0, len(list))
	for _, s := range list {
		addr, err := ledger.ParseAddress(s)
		if err != nil {
			return nil, err
		}
		out = append(out, addr)
	}
	return out, nil
}
