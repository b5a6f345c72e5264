package ws

import (
	"context"
	"encoding/json"

	"tictactoe-rooms/internal/protocol"
)

// dispatch decodes req.Payload against the shape req.Type expects, calls the
// matching handlers.Handlers method, and folds the result into the uniform
// envelope. RequestID/CorrelationID/ServerTimestamp are filled in by the
// caller after dispatch returns.
func (h *Handler) dispatch(ctx context.Context, connID string, req protocol.Request) protocol.Envelope {
	switch req.Type {
	case protocol.RPCCreateGame:
		var p protocol.CreateGameRequest
		if err := json.Unmarshal(req.Payload, &p); err != nil {
			return errEnvelope(protocol.NewAPIError(protocol.ErrInvalid))
		}
		payload, apiErr := h.h.CreateGame(ctx, connID, p)
		return toEnvelope(payload, apiErr)

	case protocol.RPCJoinGame:
		var p protocol.JoinGameRequest
		if err := json.Unmarshal(req.Payload, &p); err != nil {
			return errEnvelope(protocol.NewAPIError(protocol.ErrInvalid))
		}
		payload, apiErr := h.h.JoinGame(ctx, connID, p)
		return toEnvelope(payload, apiErr)

	case protocol.RPCReconnect:
		var p protocol.ReconnectRequest
		if err := json.Unmarshal(req.Payload, &p); err != nil {
			return errEnvelope(protocol.NewAPIError(protocol.ErrInvalid))
		}
		payload, apiErr := h.h.Reconnect(ctx, connID, p)
		return toEnvelope(payload, apiErr)

	case protocol.RPCGetGameState:
		var p protocol.GetGameStateRequest
		if err := json.Unmarshal(req.Payload, &p); err != nil {
			return errEnvelope(protocol.NewAPIError(protocol.ErrInvalid))
		}
		payload, apiErr := h.h.GetGameState(ctx, connID, p)
		return toEnvelope(payload, apiErr)

	case protocol.RPCMakeMove:
		var p protocol.MakeMoveRequest
		if err := json.Unmarshal(req.Payload, &p); err != nil {
			return errEnvelope(protocol.NewAPIError(protocol.ErrInvalid))
		}
		payload, apiErr := h.h.MakeMove(ctx, connID, p)
		return toEnvelope(payload, apiErr)

	case protocol.RPCOfferRematch:
		var p protocol.OfferRematchRequest
		if err := json.Unmarshal(req.Payload, &p); err != nil {
			return errEnvelope(protocol.NewAPIError(protocol.ErrInvalid))
		}
		payload, apiErr := h.h.OfferRematch(ctx, connID, p)
		return toEnvelope(payload, apiErr)

	case protocol.RPCAcceptRematch:
		var p protocol.AcceptRematchRequest
		if err := json.Unmarshal(req.Payload, &p); err != nil {
			return errEnvelope(protocol.NewAPIError(protocol.ErrInvalid))
		}
		payload, apiErr := h.h.AcceptRematch(ctx, connID, p)
		return toEnvelope(payload, apiErr)

	default:
		return errEnvelope(protocol.NewAPIError(protocol.ErrInvalid))
	}
}

func toEnvelope(payload any, apiErr *protocol.APIError) protocol.Envelope {
	if apiErr != nil {
		return errEnvelope(apiErr)
	}
	return protocol.Envelope{Success: true, Payload: payload}
}

func errEnvelope(apiErr *protocol.APIError) protocol.Envelope {
	return protocol.Envelope{
		Success:      false,
		ErrorCode:    apiErr.Code,
		ErrorMessage: apiErr.Message,
		Details:      apiErr.Details,
	}
}
