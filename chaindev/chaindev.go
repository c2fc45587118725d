// Package chaindev is a single-process development chain node. It keeps
// a token ownership registry in badger and speaks the same HTTP protocol
// the chain client expects, so a full custody stack can run locally
// without a real network.
package chaindev

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

// Token is one on-chain token record.
type Token struct {
	TokenID      string    `json:"token_id"`
	OwnerAddress string    `json:"owner_address"`
	MetadataRef  string    `json:"metadata_ref,omitempty"`
	MintTxHash   string    `json:"mint_tx_hash"`
	LastTxHash   string    `json:"last_tx_hash"`
	Transfers    int       `json:"transfers"`
	MintedAt     time.Time `json:"minted_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Node is the development chain node.
type Node struct {
	db        *badger.DB
	startTime time.Time
}

// NewNode creates a chain node backed by the given badger database.
func NewNode(db *badger.DB) *Node {
	return &Node{
		db:        db,
		startTime: time.Now(),
	}
}

func tokenKey(tokenID string) []byte {
	return []byte("token:" + tokenID)
}

// txHash derives a deterministic-looking transaction hash for a command.
func txHash(parts ...string) string {
	h := sha256.New()
	for _, part := range parts {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	h.Write([]byte(uuid.New().String()))
	return "0x" + hex.EncodeToString(h.Sum(nil))
}

// Mint registers a new token. Minting an existing token ID is rejected.
func (n *Node) Mint(tokenID, metadataRef, ownerAddress string) (*Token, error) {
	if tokenID == "" || ownerAddress == "" {
		return nil, errors.New("token_id and owner_address are required")
	}

	now := time.Now()
	token := &Token{
		TokenID:      tokenID,
		OwnerAddress: ownerAddress,
		MetadataRef:  metadataRef,
		MintTxHash:   txHash("mint", tokenID, ownerAddress),
		MintedAt:     now,
		UpdatedAt:    now,
	}
	token.LastTxHash = token.MintTxHash

	err := n.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(tokenKey(tokenID))
		if err == nil {
			return ErrTokenExists
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		data, err := json.Marshal(token)
		if err != nil {
			return err
		}
		return txn.Set(tokenKey(tokenID), data)
	})
	if err != nil {
		return nil, err
	}
	return token, nil
}

// Transfer moves a token to a new owner. The command fails when the
// token is unknown or the from address is not the current owner.
func (n *Node) Transfer(tokenID, fromAddress, toAddress string) (*Token, error) {
	if tokenID == "" || fromAddress == "" || toAddress == "" {
		return nil, errors.New("token_id, from_address and to_address are required")
	}

	var token Token
	err := n.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(tokenKey(tokenID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrTokenNotFound
		}
		if err != nil {
			return err
		}

		err = item.Value(func(val []byte) error {
			return json.Unmarshal(val, &token)
		})
		if err != nil {
			return err
		}

		if token.OwnerAddress != fromAddress {
			return fmt.Errorf("%w: token %s is owned by %s", ErrNotOwner, tokenID, token.OwnerAddress)
		}

		token.OwnerAddress = toAddress
		token.LastTxHash = txHash("transfer", tokenID, fromAddress, toAddress)
		token.Transfers++
		token.UpdatedAt = time.Now()

		data, err := json.Marshal(&token)
		if err != nil {
			return err
		}
		return txn.Set(tokenKey(tokenID), data)
	})
	if err != nil {
		return nil, err
	}
	return &token, nil
}

// GetToken returns a token record, or nil when unknown.
func (n *Node) GetToken(tokenID string) (*Token, error) {
	var token Token
	err := n.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(tokenKey(tokenID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &token)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &token, nil
}

// TokenCount returns the number of minted tokens.
func (n *Node) TokenCount() (int, error) {
	count := 0
	err := n.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte("token:")
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// Command rejection reasons.
var (
	ErrTokenExists   = errors.New("token already minted")
	ErrTokenNotFound = errors.New("token not found")
	ErrNotOwner      = errors.New("transfer not allowed")
)

// Handler returns the node's HTTP surface.
func (n *Node) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/chain/mint", n.handleMint)
	mux.HandleFunc("/chain/transfer", n.handleTransfer)
	mux.HandleFunc("/chain/tokens/", n.handleGetToken)
	mux.HandleFunc("/chain/status", n.handleStatus)
	return mux
}

func (n *Node) handleMint(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeTx(w, http.StatusMethodNotAllowed, "", "method not allowed")
		return
	}

	var body struct {
		TokenID      string `json:"token_id"`
		MetadataRef  string `json:"metadata_ref"`
		OwnerAddress string `json:"owner_address"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeTx(w, http.StatusBadRequest, "", "invalid request body")
		return
	}

	token, err := n.Mint(body.TokenID, body.MetadataRef, body.OwnerAddress)
	if err != nil {
		if errors.Is(err, ErrTokenExists) {
			writeTx(w, http.StatusConflict, "", err.Error())
			return
		}
		writeTx(w, http.StatusBadRequest, "", err.Error())
		return
	}

	log.Printf("✓ Minted token %s for %s", token.TokenID, token.OwnerAddress)
	writeTx(w, http.StatusOK, token.MintTxHash, "")
}

func (n *Node) handleTransfer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeTx(w, http.StatusMethodNotAllowed, "", "method not allowed")
		return
	}

	var body struct {
		TokenID     string `json:"token_id"`
		FromAddress string `json:"from_address"`
		ToAddress   string `json:"to_address"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeTx(w, http.StatusBadRequest, "", "invalid request body")
		return
	}

	token, err := n.Transfer(body.TokenID, body.FromAddress, body.ToAddress)
	if err != nil {
		switch {
		case errors.Is(err, ErrTokenNotFound):
			writeTx(w, http.StatusNotFound, "", err.Error())
		case errors.Is(err, ErrNotOwner):
			writeTx(w, http.StatusForbidden, "", err.Error())
		default:
			writeTx(w, http.StatusBadRequest, "", err.Error())
		}
		return
	}

	log.Printf("✓ Transferred token %s to %s", token.TokenID, token.OwnerAddress)
	writeTx(w, http.StatusOK, token.LastTxHash, "")
}

func (n *Node) handleGetToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeTx(w, http.StatusMethodNotAllowed, "", "method not allowed")
		return
	}

	tokenID := r.URL.Path[len("/chain/tokens/"):]
	token, err := n.GetToken(tokenID)
	if err != nil {
		writeTx(w, http.StatusInternalServerError, "", err.Error())
		return
	}
	if token == nil {
		writeTx(w, http.StatusNotFound, "", "token not found")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(token)
}

func (n *Node) handleStatus(w http.ResponseWriter, r *http.Request) {
	count, err := n.TokenCount()
	if err != nil {
		writeTx(w, http.StatusInternalServerError, "", err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "active",
		"type":   "Development Chain Node",
		"tokens": count,
		"uptime": time.Since(n.startTime).Round(time.Second).String(),
	})
}

func writeTx(w http.ResponseWriter, statusCode int, hash, errMsg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	status := "confirmed"
	if errMsg != "" {
		status = "rejected"
	}
	json.NewEncoder(w).Encode(map[string]string{
		"tx_hash": hash,
		"status":  status,
		"error":   errMsg,
	})
}
