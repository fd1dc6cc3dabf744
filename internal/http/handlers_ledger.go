package http

import (
	"net/http"

	"bilancio/internal/core"
	"bilancio/internal/ledger"
)

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	var tx core.Transaction
	if err := decodeJSON(w, r, &tx); err != nil {
		writeError(w, r, err)
		return
	}
	created, err := s.ledger.Create(r.Context(), tx)
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewResponse().
		Status(http.StatusCreated).
		Header("Location", "/api/transactions/"+created.ID).
		JSON(created).
		Write(w)
}

func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	tx, err := s.ledger.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

// handleUpdateTransaction replaces a transaction. A non-zero version in the
// body must match the stored one.
func (s *Server) handleUpdateTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var tx core.Transaction
	if err := decodeJSON(w, r, &tx); err != nil {
		writeError(w, r, err)
		return
	}
	updated, err := s.ledger.Update(r.Context(), id, tx)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.ledger.Delete(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	NewResponse().Status(http.StatusNoContent).Write(w)
}

func (s *Server) handleOpenAccount(w http.ResponseWriter, r *http.Request) {
	var a core.Account
	if err := decodeJSON(w, r, &a); err != nil {
		writeError(w, r, err)
		return
	}
	opened, err := s.ledger.OpenAccount(r.Context(), a)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, opened)
}

type balanceResponse struct {
	AccountID string     `json:"accountId"`
	Balance   core.Money `json:"balance"`
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	balance, err := s.ledger.BalanceOf(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{AccountID: id, Balance: balance})
}

type verifyResponse struct {
	Consistent bool `json:"consistent"`
	ledger.Reconciliation
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	rec, err := s.ledger.Verify(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, verifyResponse{Consistent: rec.Consistent(), Reconciliation: rec})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	ids := queryList(r.URL.Query(), "ids")
	if len(ids) == 0 {
		writeError(w, r, core.Invalid("ids", core.ErrEmptyID))
		return
	}
	sum, err := s.ledger.Summary(r.Context(), ids)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleRegisterAsset(w http.ResponseWriter, r *http.Request) {
	var a core.Asset
	if err := decodeJSON(w, r, &a); err != nil {
		writeError(w, r, err)
		return
	}
	registered, err := s.ledger.RegisterAsset(r.Context(), a)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, registered)
}
