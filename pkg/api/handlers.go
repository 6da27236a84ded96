package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/jakechorley/community-connect/pkg/core/apperrors"
	"github.com/jakechorley/community-connect/pkg/core/model"
	"github.com/jakechorley/community-connect/pkg/core/notify"
	"github.com/jakechorley/community-connect/pkg/core/services"
	"github.com/jakechorley/community-connect/pkg/db"
)

type createResponse struct {
	Parent   db.Opportunity   `json:"parent"`
	Children []db.Opportunity `json:"children"`
	Count    int              `json:"count"`
}

type updateRequest struct {
	db.OpportunityFields
	DisableRecurrence bool   `json:"disableRecurrence"`
	Series            bool   `json:"series"`
	Cutoff            string `json:"cutoff"`
}

type messageRequest struct {
	Text string `json:"text"`
}

type messageResponse struct {
	Message           db.ChatMessage         `json:"message"`
	Notification      *notify.DispatchReport `json:"notification,omitempty"`
	NotificationError string                 `json:"notificationError,omitempty"`
}

func refParam(r *http.Request) (model.OpportunityRef, error) {
	ref, err := model.ParseRef(chi.URLParam(r, "ref"))
	if err != nil {
		return ref, apperrors.ValidationWrap("invalid opportunity reference", err)
	}
	return ref, nil
}

// actingOrganization returns the organization a principal acts for on ref.
// Admins act for whichever organization hosts the opportunity.
func (s *Server) actingOrganization(ctx context.Context, p *Principal, ref model.OpportunityRef) (string, error) {
	switch p.Role {
	case RoleOrganization:
		return p.OrganizationID, nil
	case RoleAdmin:
		opp, err := s.lookupOpportunity(ctx, ref)
		if err != nil {
			return "", err
		}
		return opp.OrganizationID, nil
	default:
		return "", apperrors.NotAuthorized("volunteers cannot manage opportunities")
	}
}

func (s *Server) lookupOpportunity(ctx context.Context, ref model.OpportunityRef) (*db.Opportunity, error) {
	opp, err := s.store.GetOpportunity(ctx, ref)
	if errors.Is(err, db.ErrNotFound) {
		return nil, apperrors.NotFound("opportunity", ref.String())
	}
	if err != nil {
		return nil, apperrors.System("failed to fetch opportunity", err)
	}
	return opp, nil
}

func (s *Server) handleCreateOpportunity(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())

	var form services.OpportunityForm
	if err := decodeJSON(w, r, &form); err != nil {
		writeServiceError(w, s.logger, err)
		return
	}

	switch p.Role {
	case RoleOrganization:
		form.OrganizationID = p.OrganizationID
	case RoleAdmin:
	default:
		writeServiceError(w, s.logger, apperrors.NotAuthorized("volunteers cannot create opportunities"))
		return
	}

	result, err := services.CreateOpportunity(r.Context(), s.store, s.logger, s.opts.HorizonMonths, form, s.now())
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, createResponse{
		Parent:   result.Parent,
		Children: result.Children,
		Count:    len(result.Children) + 1,
	})
}

func (s *Server) handleUpdateOpportunity(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	ref, err := refParam(r)
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}

	var req updateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, s.logger, err)
		return
	}

	cutoff := model.DateOnly(s.now())
	if req.Cutoff != "" {
		cutoff, err = model.ParseDate(req.Cutoff)
		if err != nil {
			writeServiceError(w, s.logger, apperrors.ValidationWrap("invalid cutoff date", err))
			return
		}
	}

	orgID, err := s.actingOrganization(r.Context(), p, ref)
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}

	updated, err := services.PropagateUpdate(r.Context(), s.store, s.logger, services.UpdateInput{
		Anchor:            ref,
		OrganizationID:    orgID,
		Fields:            req.OpportunityFields,
		DisableRecurrence: req.DisableRecurrence,
		Series:            req.Series,
		Cutoff:            cutoff,
	})
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{"updated": updated})
}

func (s *Server) handleDeleteOpportunity(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	ref, err := refParam(r)
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}

	wholeFamily := false
	if v := r.URL.Query().Get("family"); v != "" {
		wholeFamily, err = strconv.ParseBool(v)
		if err != nil {
			writeServiceError(w, s.logger, apperrors.ValidationWrap("invalid family flag", err))
			return
		}
	}

	orgID, err := s.actingOrganization(r.Context(), p, ref)
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}

	deleted, err := services.PropagateDelete(r.Context(), s.store, s.logger, services.DeleteInput{
		Anchor:            ref,
		OrganizationID:    orgID,
		DeleteWholeFamily: wholeFamily,
		Today:             model.DateOnly(s.now()),
	})
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{"deleted": deleted})
}

func (s *Server) handleListFamily(w http.ResponseWriter, r *http.Request) {
	ref, err := refParam(r)
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}

	family, err := services.ListFamily(r.Context(), s.store, s.logger, ref)
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, family)
}

func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	s.handleCommitment(w, r, services.CommitToOpportunity)
}

func (s *Server) handleUncommit(w http.ResponseWriter, r *http.Request) {
	s.handleCommitment(w, r, services.UncommitFromOpportunity)
}

type commitmentFunc func(context.Context, services.CommitmentStore, *zap.Logger, string, model.OpportunityRef) (*db.Opportunity, error)

func (s *Server) handleCommitment(w http.ResponseWriter, r *http.Request, fn commitmentFunc) {
	p, _ := PrincipalFrom(r.Context())
	if p.Role != RoleVolunteer {
		writeServiceError(w, s.logger, apperrors.NotAuthorized("only volunteers can commit to opportunities"))
		return
	}
	ref, err := refParam(r)
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}

	opp, err := fn(r.Context(), s.store, s.logger, p.ID, ref)
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, opp)
}

func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	ref, err := refParam(r)
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}

	var req messageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, s.logger, err)
		return
	}

	in := services.PostMessageInput{
		OpportunityRef: ref,
		SenderID:       p.ID,
		SenderEmail:    p.Email,
		SenderName:     p.Name,
		Text:           req.Text,
	}
	switch p.Role {
	case RoleVolunteer:
		in.SenderType = model.SenderUser
	case RoleOrganization:
		in.SenderType = model.SenderOrganization
		in.SenderID = p.OrganizationID
	case RoleAdmin:
		// The visible sender is the hosting organization
		in.SenderType = model.SenderAdminAsHost
		in.ActingAdminEmail = p.Email
		name, err := s.hostName(r.Context(), ref)
		if err != nil {
			writeServiceError(w, s.logger, err)
			return
		}
		in.SenderName = name
	}

	result, err := services.PostChatMessage(r.Context(), s.store, s.dispatcher, s.logger, in, s.now())
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, messageResponse{
		Message:           result.Message,
		Notification:      result.Notification,
		NotificationError: result.NotificationError,
	})
}

func (s *Server) hostName(ctx context.Context, ref model.OpportunityRef) (string, error) {
	opp, err := s.lookupOpportunity(ctx, ref)
	if err != nil {
		return "", err
	}
	org, err := s.store.GetOrganization(ctx, opp.OrganizationID)
	if errors.Is(err, db.ErrNotFound) {
		return "", apperrors.NotFound("organization", opp.OrganizationID)
	}
	if err != nil {
		return "", apperrors.System("failed to fetch organization", err)
	}
	return org.Name, nil
}
