package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gagliardetto/solana-go"
	"github.com/go-chi/chi/v5"
	"github.com/samu-project/rewards/settlement/pkg/rewards"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

type initializeRequest struct {
	Treasury   solana.PublicKey `json:"treasury"`
	RewardMint solana.PublicKey `json:"reward_mint"`
	Shares     rewards.Shares   `json:"shares"`
}

type transferAdminRequest struct {
	NewAdmin solana.PublicKey `json:"new_admin"`
}

type distributeRequest struct {
	ContestID           uint64              `json:"contest_id"`
	DistributionIndex   uint8               `json:"distribution_index"`
	TotalAmount         uint64              `json:"total_amount"`
	Recipients          []rewards.Recipient `json:"recipients"`
	DestinationAccounts []solana.PublicKey  `json:"destination_accounts"`
	PoolAccount         solana.PublicKey    `json:"pool_account"`
}

func (req distributeRequest) params(caller solana.PublicKey) rewards.DistributeParams {
	return rewards.DistributeParams{
		Caller:              caller,
		ContestID:           req.ContestID,
		DistributionIndex:   req.DistributionIndex,
		TotalAmount:         req.TotalAmount,
		Recipients:          req.Recipients,
		DestinationAccounts: req.DestinationAccounts,
		PoolAccount:         req.PoolAccount,
	}
}

type planResponse struct {
	ContestID         uint64             `json:"contest_id"`
	DistributionIndex uint8              `json:"distribution_index"`
	TotalAmount       uint64             `json:"total_amount"`
	DistributedTotal  uint64             `json:"distributed_total"`
	Totals            rewards.RoleTotals `json:"totals"`
	Expected          rewards.RoleTotals `json:"expected"`
	Tolerance         uint64             `json:"tolerance"`
	RecipientCount    int                `json:"recipient_count"`
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.cfg.Governor.Config(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request) {
	var req initializeRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	cfg, err := s.cfg.Governor.Initialize(r.Context(), rewards.InitializeParams{
		Admin:      signerFrom(r.Context()),
		Treasury:   req.Treasury,
		RewardMint: req.RewardMint,
		Shares:     req.Shares,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, cfg)
}

func (s *Server) handleUpdateShares(w http.ResponseWriter, r *http.Request) {
	var shares rewards.Shares
	if err := decodeJSON(r, &shares); err != nil {
		s.writeError(w, r, err)
		return
	}
	cfg, err := s.cfg.Governor.UpdateShares(r.Context(), signerFrom(r.Context()), shares)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleLock(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.cfg.Governor.LockConfig(r.Context(), signerFrom(r.Context()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleTransferAdmin(w http.ResponseWriter, r *http.Request) {
	var req transferAdminRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	cfg, err := s.cfg.Governor.TransferAdmin(r.Context(), signerFrom(r.Context()), req.NewAdmin)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleDistribute(w http.ResponseWriter, r *http.Request) {
	var req distributeRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	record, err := s.cfg.Engine.Distribute(r.Context(), req.params(signerFrom(r.Context())))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, record)
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req distributeRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	plan, err := s.cfg.Engine.Validate(r.Context(), req.params(signerFrom(r.Context())))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, planResponse{
		ContestID:         plan.ContestID,
		DistributionIndex: plan.DistributionIndex,
		TotalAmount:       plan.TotalAmount,
		DistributedTotal:  plan.Aggregate.DistributedTotal,
		Totals:            plan.Aggregate.Totals,
		Expected:          plan.Expected,
		Tolerance:         plan.Tolerance,
		RecipientCount:    len(plan.Aggregate.Paid),
	})
}

func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	contestID, err := strconv.ParseUint(chi.URLParam(r, "contestID"), 10, 64)
	if err != nil {
		s.writeError(w, r, badRequest(fmt.Errorf("invalid contest id: %w", err)))
		return
	}
	index, err := strconv.ParseUint(chi.URLParam(r, "index"), 10, 8)
	if err != nil {
		s.writeError(w, r, badRequest(fmt.Errorf("invalid distribution index: %w", err)))
		return
	}
	record, err := s.cfg.Store.Record(r.Context(), contestID, uint8(index))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultListLimit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	records, err := s.cfg.Store.Records(r.Context(), min(limit, maxListLimit), offset)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if records == nil {
		records = []rewards.DistributionRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records, "limit": min(limit, maxListLimit), "offset": offset})
}

func (s *Server) handlePoolAuthority(w http.ResponseWriter, r *http.Request) {
	authority := s.cfg.Engine.Authority()
	writeJSON(w, http.StatusOK, map[string]any{
		"program_id": authority.ProgramID(),
		"address":    authority.Address(),
		"bump":       authority.Bump(),
	})
}

func (s *Server) handleRegisterTokenAccount(w http.ResponseWriter, r *http.Request) {
	var acct rewards.TokenAccount
	if err := decodeJSON(r, &acct); err != nil {
		s.writeError(w, r, err)
		return
	}
	registered, err := s.cfg.Governor.RegisterTokenAccount(r.Context(), signerFrom(r.Context()), acct)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, registered)
}

func (s *Server) handleGetTokenAccount(w http.ResponseWriter, r *http.Request) {
	address, err := solana.PublicKeyFromBase58(chi.URLParam(r, "address"))
	if err != nil {
		s.writeError(w, r, badRequest(fmt.Errorf("invalid address: %w", err)))
		return
	}
	acct, err := s.cfg.Store.TokenAccount(r.Context(), address)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Stats == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "NotConfigured", Message: "stats are not enabled"})
		return
	}
	stats, err := s.cfg.Stats.Stats(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, badRequest(errors.New(name + " must be a non-negative integer"))
	}
	return v, nil
}
