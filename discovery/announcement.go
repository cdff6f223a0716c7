package discovery

import (
	"time"

	"github.com/cockroachdb/errors"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Status of an announced instance.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// ErrInvalidAnnouncement is returned when a payload is not an announcement.
var ErrInvalidAnnouncement = errors.New("[LAB] invalid announcement")

// Announcement describes one service instance.
type Announcement struct {
	Service   string
	Address   string
	Instance  string
	Status    Status
	Timestamp time.Time
}

// WithStatus returns a copy of a with status and timestamp replaced.
func (a Announcement) WithStatus(status Status, at time.Time) Announcement {
	a.Status = status
	a.Timestamp = at
	return a
}

// Marshal encodes a as a protobuf google.protobuf.Struct.
func (a Announcement) Marshal() ([]byte, error) {
	s, err := structpb.NewStruct(map[string]interface{}{
		"service":   a.Service,
		"address":   a.Address,
		"instance":  a.Instance,
		"status":    string(a.Status),
		"timestamp": a.Timestamp.UnixMilli(),
	})
	if err != nil {
		return nil, errors.Wrap(err, "announcement struct")
	}
	return proto.Marshal(s)
}

// UnmarshalAnnouncement decodes a payload produced by Announcement.Marshal.
func UnmarshalAnnouncement(data []byte) (Announcement, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(data, &s); err != nil {
		return Announcement{}, errors.Mark(errors.Wrap(err, "unmarshal announcement"), ErrInvalidAnnouncement)
	}

	fields := s.GetFields()
	service := fields["service"].GetStringValue()
	instance := fields["instance"].GetStringValue()
	if service == "" || instance == "" {
		return Announcement{}, errors.Wrapf(ErrInvalidAnnouncement, "service=%q instance=%q", service, instance)
	}

	return Announcement{
		Service:   service,
		Address:   fields["address"].GetStringValue(),
		Instance:  instance,
		Status:    Status(fields["status"].GetStringValue()),
		Timestamp: time.UnixMilli(int64(fields["timestamp"].GetNumberValue())),
	}, nil
}
