package api

import (
	"net/http"
	"time"

	"betledger/service"
)

type createUserRequest struct {
	UserID   int64  `json:"userId"`
	Username string `json:"username"`
}

type balanceResponse struct {
	UserID  int64 `json:"userId"`
	Balance int64 `json:"balance"`
}

type addMemberRequest struct {
	UserID int64 `json:"userId"`
}

type createBetBody struct {
	Question    string    `json:"question"`
	Options     []string  `json:"options"`
	WagerAmount int64     `json:"wagerAmount"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

type editBetBody struct {
	Question    *string          `json:"question,omitempty"`
	OptionTexts map[int64]string `json:"optionTexts,omitempty"`
}

type placeBetBody struct {
	OptionID int64 `json:"optionId"`
}

type resolveBetBody struct {
	WinningOptionID int64 `json:"winningOptionId"`
}

func (s *Server) createUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.UserID <= 0 {
		badRequest(w, "userId is required")
		return
	}
	user, err := s.services.Points.GetOrCreateUser(r.Context(), req.UserID, req.Username)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) getBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}
	balance, err := s.services.Points.GetBalance(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{UserID: userID, Balance: balance})
}

func (s *Server) getHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}
	history, err := s.services.Points.GetHistory(r.Context(), userID, queryLimit(r, 50))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func (s *Server) listUserBets(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}
	bets, err := s.services.Lifecycle.ListBetsByUser(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bets)
}

func (s *Server) listMembers(w http.ResponseWriter, r *http.Request) {
	groupID, ok := pathID(w, r, "groupID")
	if !ok {
		return
	}
	members, err := s.services.Members.ListMembers(r.Context(), groupID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, members)
}

func (s *Server) addMember(w http.ResponseWriter, r *http.Request) {
	groupID, ok := pathID(w, r, "groupID")
	if !ok {
		return
	}
	var req addMemberRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.UserID <= 0 {
		badRequest(w, "userId is required")
		return
	}
	if err := s.services.Members.AddMember(r.Context(), groupID, req.UserID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listGroupBets(w http.ResponseWriter, r *http.Request) {
	groupID, ok := pathID(w, r, "groupID")
	if !ok {
		return
	}
	bets, err := s.services.Lifecycle.ListBetsByGroup(r.Context(), groupID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bets)
}

func (s *Server) createBet(w http.ResponseWriter, r *http.Request) {
	groupID, ok := pathID(w, r, "groupID")
	if !ok {
		return
	}
	var body createBetBody
	if !decodeJSON(w, r, &body) {
		return
	}
	detail, err := s.services.Lifecycle.CreateBet(r.Context(), service.CreateBetRequest{
		GroupID:     groupID,
		CreatorID:   requester(r),
		Question:    body.Question,
		Options:     body.Options,
		WagerAmount: body.WagerAmount,
		ExpiresAt:   body.ExpiresAt,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, detail)
}

func (s *Server) getBet(w http.ResponseWriter, r *http.Request) {
	betID, ok := pathID(w, r, "betID")
	if !ok {
		return
	}
	detail, err := s.services.Lifecycle.GetBet(r.Context(), betID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) editBet(w http.ResponseWriter, r *http.Request) {
	betID, ok := pathID(w, r, "betID")
	if !ok {
		return
	}
	var body editBetBody
	if !decodeJSON(w, r, &body) {
		return
	}
	detail, err := s.services.Lifecycle.EditBet(r.Context(), service.EditBetRequest{
		BetID:       betID,
		RequesterID: requester(r),
		Question:    body.Question,
		OptionTexts: body.OptionTexts,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) deleteBet(w http.ResponseWriter, r *http.Request) {
	betID, ok := pathID(w, r, "betID")
	if !ok {
		return
	}
	if err := s.services.Lifecycle.DeleteBet(r.Context(), betID, requester(r)); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) lockBet(w http.ResponseWriter, r *http.Request) {
	betID, ok := pathID(w, r, "betID")
	if !ok {
		return
	}
	bet, err := s.services.Lifecycle.LockBet(r.Context(), betID, requester(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bet)
}

func (s *Server) placeBet(w http.ResponseWriter, r *http.Request) {
	betID, ok := pathID(w, r, "betID")
	if !ok {
		return
	}
	var body placeBetBody
	if !decodeJSON(w, r, &body) {
		return
	}
	participant, err := s.services.Staking.PlaceBet(r.Context(), service.PlaceBetRequest{
		BetID:    betID,
		UserID:   requester(r),
		OptionID: body.OptionID,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, participant)
}

func (s *Server) resolveBet(w http.ResponseWriter, r *http.Request) {
	betID, ok := pathID(w, r, "betID")
	if !ok {
		return
	}
	var body resolveBetBody
	if !decodeJSON(w, r, &body) {
		return
	}
	results, err := s.services.Settlement.ResolveBet(r.Context(), service.ResolveBetRequest{
		BetID:           betID,
		RequesterID:     requester(r),
		WinningOptionID: body.WinningOptionID,
	})
	if partial, ok := asPartial(err); ok {
		writeJSON(w, http.StatusMultiStatus, partialSettlementResponse{
			Results:         results,
			Error:           ErrorBody{Kind: string(service.KindPartialSettlement), Message: partial.Error()},
			ResolvedWinners: partial.ResolvedWinners,
			FailedWinners:   partial.FailedWinners,
		})
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) getResults(w http.ResponseWriter, r *http.Request) {
	betID, ok := pathID(w, r, "betID")
	if !ok {
		return
	}
	results, err := s.services.Settlement.GetBetResults(r.Context(), betID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) getStats(w http.ResponseWriter, r *http.Request) {
	betID, ok := pathID(w, r, "betID")
	if !ok {
		return
	}
	stats, err := s.services.Settlement.GetBetStats(r.Context(), betID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) listUnsettled(w http.ResponseWriter, r *http.Request) {
	payouts, err := s.services.Settlement.ListUnsettledPayouts(r.Context(), queryLimit(r, 0))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payouts)
}
