package api

import (
	"context"
	"encoding/json"

	"github.com/emberapp/ember/internal/bus"
	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const EventServiceName = "ember.v1.EventService"

// EventService implements ember.v1.EventService. It relays events from the
// component buses to watchers.
type EventService struct {
	sessionName string
	sources     []bus.Subscriber
}

// NewEventService creates an event service over the given buses.
func NewEventService(sessionName string, sources ...bus.Subscriber) *EventService {
	return &EventService{sessionName: sessionName, sources: sources}
}

// Watch streams events whose kind starts with the requested namespace until
// the client goes away. Slow watchers lose events rather than stall the
// components.
func (s *EventService) Watch(req *WatchRequest, stream grpc.ServerStream) error {
	ch, stop := bus.Merge(req.Namespace, 256, s.sources...)
	defer stop()

	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				return nil
			}
			out, err := Encode(Event{
				ID:      uuid.New().String(),
				Session: s.sessionName,
				Kind:    evt.Kind,
				At:      evt.Timestamp,
				Payload: payloadOf(evt.Payload),
			})
			if err != nil {
				return err
			}
			if err := stream.SendMsg(out); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		}
	}
}

// payloadOf makes a payload JSON-safe. Errors become their message; values
// that cannot be encoded are dropped.
func payloadOf(p any) any {
	switch v := p.(type) {
	case nil:
		return nil
	case error:
		return map[string]any{"error": v.Error()}
	}
	if _, err := json.Marshal(p); err != nil {
		return nil
	}
	return p
}

// EventServiceDesc describes ember.v1.EventService.
var EventServiceDesc = grpc.ServiceDesc{
	ServiceName: EventServiceName,
	HandlerType: (*any)(nil),
	Streams: []grpc.StreamDesc{{
		StreamName:    "Watch",
		ServerStreams: true,
		Handler: func(srv any, stream grpc.ServerStream) error {
			in := new(structpb.Struct)
			if err := stream.RecvMsg(in); err != nil {
				return err
			}
			var req WatchRequest
			if err := Decode(in, &req); err != nil {
				return invalidArgument(err)
			}
			return srv.(*EventService).Watch(&req, stream)
		},
	}},
}

// WatchEvents opens a Watch stream and delivers events to fn until the
// stream ends or ctx is cancelled.
func WatchEvents(ctx context.Context, cc grpc.ClientConnInterface, namespace string, fn func(Event)) error {
	stream, err := cc.NewStream(ctx, &EventServiceDesc.Streams[0], "/"+EventServiceName+"/Watch")
	if err != nil {
		return err
	}
	in, err := Encode(WatchRequest{Namespace: namespace})
	if err != nil {
		return err
	}
	if err := stream.SendMsg(in); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}
	for {
		out := new(structpb.Struct)
		if err := stream.RecvMsg(out); err != nil {
			return err
		}
		var evt Event
		if err := Decode(out, &evt); err != nil {
			return err
		}
		fn(evt)
	}
}
