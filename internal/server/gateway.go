package server

import (
	"Parimutuel/internal/event"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// binder fills a request from path parameters and the query string
type binder[Req any] func(r *http.Request, params map[string]string, req *Req) error

// NewGatewayMux serves the Market service as HTTP/JSON. Routes call srv
// in-process and pass through the same rate limiter as gRPC.
func NewGatewayMux(srv MarketServiceServer, limiter *ParticipantLimiter) (*runtime.ServeMux, error) {
	mux := runtime.NewServeMux()

	routes := []struct {
		method, pattern string
		h               runtime.HandlerFunc
	}{
		{"POST", "/v1/commands", route(limiter, "SubmitCommand", srv.SubmitCommand, nil)},
		{"POST", "/v1/participants/{participant}/fund", route(limiter, "FundParticipant", srv.FundParticipant,
			func(_ *http.Request, p map[string]string, req *FundParticipantRequest) error {
				req.Participant = p["participant"]
				return nil
			})},
		{"POST", "/v1/treasury/seed", route(limiter, "SeedTreasury", srv.SeedTreasury, nil)},

		{"GET", "/v1/markets/{token}", route(limiter, "GetMarket", srv.GetMarket,
			func(_ *http.Request, p map[string]string, req *GetMarketRequest) error {
				req.Token = p["token"]
				return nil
			})},
		{"GET", "/v1/markets/{token}/rounds/{round}", route(limiter, "GetRound", srv.GetRound,
			func(_ *http.Request, p map[string]string, req *GetRoundRequest) error {
				req.Token = p["token"]
				return parseInt(p["round"], "round", &req.Round)
			})},
		{"GET", "/v1/markets/{token}/rounds/{round}/settlements", route(limiter, "ListSettlements", srv.ListSettlements,
			func(r *http.Request, p map[string]string, req *ListSettlementsRequest) error {
				req.Token = p["token"]
				if err := parseInt(p["round"], "round", &req.Round); err != nil {
					return err
				}
				return pageParams(r, &req.PageSize, "after_sequence", &req.AfterSequence)
			})},
		{"GET", "/v1/participants/{participant}/settlements", route(limiter, "ListParticipantSettlements", srv.ListParticipantSettlements,
			func(r *http.Request, p map[string]string, req *ListParticipantSettlementsRequest) error {
				req.Participant = p["participant"]
				return pageParams(r, &req.PageSize, "after_sequence", &req.AfterSequence)
			})},
		{"GET", "/v1/participants/{participant}/balance", route(limiter, "GetBalance", srv.GetBalance,
			func(_ *http.Request, p map[string]string, req *GetBalanceRequest) error {
				req.Participant = p["participant"]
				return nil
			})},
		{"GET", "/v1/participants/{participant}/journals", route(limiter, "ListJournals", srv.ListJournals,
			func(r *http.Request, p map[string]string, req *ListJournalsRequest) error {
				req.Participant = p["participant"]
				return pageParams(r, &req.PageSize, "before_us", &req.BeforeUs)
			})},
		{"GET", "/v1/treasury/{authority}", route(limiter, "GetTreasury", srv.GetTreasury,
			func(_ *http.Request, p map[string]string, req *GetTreasuryRequest) error {
				req.Authority = p["authority"]
				return nil
			})},

		{"GET", "/v1/admin/event-log", route(limiter, "GetEventLogInfo", srv.GetEventLogInfo, nil)},
		{"POST", "/v1/admin/verify-integrity", route(limiter, "VerifyIntegrity", srv.VerifyIntegrity, nil)},
		{"POST", "/v1/admin/verify-snapshots", route(limiter, "VerifySnapshots", srv.VerifySnapshots, nil)},
		{"POST", "/v1/admin/rebuild-projections", route(limiter, "RebuildProjections", srv.RebuildProjections, nil)},
		{"POST", "/v1/admin/snapshots", route(limiter, "TakeSnapshot", srv.TakeSnapshot, nil)},
	}

	for _, rt := range routes {
		if err := mux.HandlePath(rt.method, rt.pattern, rt.h); err != nil {
			return nil, fmt.Errorf("route %s %s: %w", rt.method, rt.pattern, err)
		}
	}
	return mux, nil
}

func route[Req, Resp any](
	limiter *ParticipantLimiter,
	method string,
	call func(context.Context, *Req) (*Resp, error),
	bind binder[Req],
) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		req := new(Req)
		if r.Method == http.MethodPost {
			if err := decodeBody(r, req); err != nil {
				writeError(w, status.Errorf(codes.InvalidArgument, "decode body: %v", err))
				return
			}
		}
		if bind != nil {
			if err := bind(r, params, req); err != nil {
				writeError(w, err)
				return
			}
		}
		if err := limiter.Allow(method, req); err != nil {
			writeError(w, err)
			return
		}

		resp, err := call(r.Context(), req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func decodeBody(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	if _, ok := v.(*event.Command); ok {
		dec.DisallowUnknownFields()
	}
	if err := dec.Decode(v); err != nil && err != io.EOF {
		return err
	}
	return nil
}

func parseInt(s, name string, dst *int64) error {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "%s: %v", name, err)
	}
	*dst = v
	return nil
}

func pageParams(r *http.Request, pageSize *int, cursorName string, cursor **int64) error {
	q := r.URL.Query()
	if v := q.Get("page_size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return status.Errorf(codes.InvalidArgument, "page_size: %v", err)
		}
		*pageSize = n
	}
	if v := q.Get(cursorName); v != "" {
		var c int64
		if err := parseInt(v, cursorName, &c); err != nil {
			return err
		}
		*cursor = &c
	}
	return nil
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, err error) {
	st := status.Convert(err)
	writeJSON(w, runtime.HTTPStatusFromCode(st.Code()), errorBody{
		Code:    st.Code().String(),
		Message: st.Message(),
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
