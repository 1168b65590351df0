package admin

import (
	"context"
	"math"
	"strings"

	"github.com/BearBump/DispatchBox/internal/gateway"
	"github.com/BearBump/DispatchBox/internal/models"
	"github.com/pkg/errors"
)

const DefaultDriverPassword = "maxxuser@1234"

// ValidationError is a client mistake; its message is shown to the user as is.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

var (
	ErrMissingFields = &ValidationError{Msg: "Missing required fields"}
	ErrInvalidDate   = &ValidationError{Msg: "Invalid date"}
	ErrInvalidStatus = &ValidationError{Msg: "Invalid status"}
	ErrNoUserID      = errors.New("Failed to create user")
)

func invalidNumber(field string) error {
	return &ValidationError{Msg: "Invalid " + field}
}

type UserCreator interface {
	CreateUser(ctx context.Context, in models.UserCreate) (string, error)
}

type Service struct {
	gw              gateway.Gateway
	users           UserCreator
	defaultPassword string
}

func New(gw gateway.Gateway, users UserCreator) *Service {
	return &Service{gw: gw, users: users, defaultPassword: DefaultDriverPassword}
}

func (s *Service) WithDefaultPassword(p string) *Service {
	if p != "" {
		s.defaultPassword = p
	}
	return s
}

// CreateDriver mints the auth user and then the driver row pointing at it.
// A failed row insert leaves the auth user behind.
func (s *Service) CreateDriver(ctx context.Context, in models.DriverCreateInput) (string, error) {
	in.Email = strings.TrimSpace(in.Email)
	in.FullName = strings.TrimSpace(in.FullName)
	if in.Email == "" || in.FullName == "" {
		return "", ErrMissingFields
	}
	password := in.Password
	if password == "" {
		password = s.defaultPassword
	}

	userID, err := s.users.CreateUser(ctx, models.UserCreate{
		Email:    in.Email,
		Password: password,
		FullName: in.FullName,
		Phone:    in.Phone,
		Role:     models.RoleDriver,
	})
	if err != nil {
		return "", err
	}
	if userID == "" {
		return "", ErrNoUserID
	}

	_, err = s.gw.Insert(ctx, gateway.TableDrivers, gateway.Row{
		"full_name":    in.FullName,
		"phone":        in.Phone,
		"email":        in.Email,
		"auth_user_id": userID,
	})
	if err != nil {
		return "", err
	}
	return userID, nil
}

func (s *Service) ListDrivers(ctx context.Context) ([]models.DriverSummary, error) {
	rows, err := s.gw.List(ctx, gateway.TableDrivers, gateway.Query{Columns: []string{"id", "full_name", "email"}})
	if err != nil {
		return nil, err
	}
	return gateway.DecodeAll[models.DriverSummary](rows)
}

func (s *Service) UpdateDriver(ctx context.Context, id string, p models.DriverPatch) (models.Driver, error) {
	patch := gateway.Row{}
	if p.FullName != nil {
		name := strings.TrimSpace(*p.FullName)
		if name == "" {
			return models.Driver{}, ErrMissingFields
		}
		patch["full_name"] = name
	}
	if p.Phone != nil {
		patch["phone"] = *p.Phone
	}
	if p.Email != nil {
		email := strings.TrimSpace(*p.Email)
		if email == "" {
			return models.Driver{}, ErrMissingFields
		}
		patch["email"] = email
	}
	if len(patch) == 0 {
		return models.Driver{}, ErrMissingFields
	}

	row, err := s.gw.Update(ctx, gateway.TableDrivers, id, patch)
	if err != nil {
		return models.Driver{}, err
	}
	return gateway.Decode[models.Driver](row)
}

// DeleteDriver removes the row; the backend unassigns their loads and drops
// their location and stop requests.
func (s *Service) DeleteDriver(ctx context.Context, id string) error {
	if id == "" {
		return ErrMissingFields
	}
	return s.gw.Delete(ctx, gateway.TableDrivers, id)
}

func (s *Service) CreateLoad(ctx context.Context, in models.LoadCreateInput) (gateway.Row, error) {
	if strings.TrimSpace(in.LoadNumber) == "" || strings.TrimSpace(in.PickupLocation) == "" ||
		strings.TrimSpace(in.PickupDatetime) == "" || strings.TrimSpace(in.DeliveryLocation) == "" ||
		strings.TrimSpace(in.DeliveryDatetime) == "" {
		return nil, ErrMissingFields
	}
	pickup, err := normalizeDate(in.PickupDatetime)
	if err != nil {
		return nil, err
	}
	delivery, err := normalizeDate(in.DeliveryDatetime)
	if err != nil {
		return nil, err
	}
	pallets, err := optionalNumber("pallets", in.Pallets)
	if err != nil {
		return nil, err
	}
	weights, err := optionalNumber("weights", in.Weights)
	if err != nil {
		return nil, err
	}

	row := gateway.Row{
		"load_number":       in.LoadNumber,
		"pickup_location":   in.PickupLocation,
		"pickup_datetime":   pickup,
		"delivery_location": in.DeliveryLocation,
		"delivery_datetime": delivery,
		"commodity":         nil,
		"pallets":           pallets,
		"weights":           weights,
		"driver_id":         optionalID(in.DriverID),
		"status":            string(models.LoadStatusPending),
	}
	if in.Commodity != nil {
		row["commodity"] = *in.Commodity
	}
	return s.gw.Insert(ctx, gateway.TableLoads, row)
}

func (s *Service) UpdateLoad(ctx context.Context, id string, p models.LoadPatch) (models.Load, error) {
	patch := gateway.Row{}
	for col, v := range map[string]*string{
		"load_number":       p.LoadNumber,
		"pickup_location":   p.PickupLocation,
		"delivery_location": p.DeliveryLocation,
	} {
		if v == nil {
			continue
		}
		if strings.TrimSpace(*v) == "" {
			return models.Load{}, ErrMissingFields
		}
		patch[col] = *v
	}
	for col, v := range map[string]*string{
		"pickup_datetime":   p.PickupDatetime,
		"delivery_datetime": p.DeliveryDatetime,
	} {
		if v == nil {
			continue
		}
		ts, err := normalizeDate(*v)
		if err != nil {
			return models.Load{}, err
		}
		patch[col] = ts
	}
	if p.Commodity != nil {
		patch["commodity"] = *p.Commodity
	}
	if p.Pallets != nil {
		n, err := optionalNumber("pallets", p.Pallets)
		if err != nil {
			return models.Load{}, err
		}
		patch["pallets"] = n
	}
	if p.Weights != nil {
		n, err := optionalNumber("weights", p.Weights)
		if err != nil {
			return models.Load{}, err
		}
		patch["weights"] = n
	}
	if len(patch) == 0 {
		return models.Load{}, ErrMissingFields
	}
	return s.updateLoad(ctx, id, patch)
}

func (s *Service) DeleteLoad(ctx context.Context, id string) error {
	if id == "" {
		return ErrMissingFields
	}
	return s.gw.Delete(ctx, gateway.TableLoads, id)
}

// SetLoadStatus moves a load along the status machine.
func (s *Service) SetLoadStatus(ctx context.Context, id, status string) (models.Load, error) {
	to, ok := models.ParseLoadStatus(status)
	if !ok {
		return models.Load{}, ErrInvalidStatus
	}
	cur, err := s.getLoad(ctx, id)
	if err != nil {
		return models.Load{}, err
	}
	if err := models.CheckTransition(cur.Status, to); err != nil {
		return models.Load{}, err
	}
	return s.updateLoad(ctx, id, gateway.Row{"status": string(to)})
}

// AssignDriver hands the load to a driver and puts it back to Pending.
func (s *Service) AssignDriver(ctx context.Context, id, driverID string) (models.Load, error) {
	driverID = strings.TrimSpace(driverID)
	if driverID == "" {
		return models.Load{}, ErrMissingFields
	}
	cur, err := s.getLoad(ctx, id)
	if err != nil {
		return models.Load{}, err
	}
	if err := models.CheckTransition(cur.Status, models.LoadStatusPending); err != nil {
		return models.Load{}, err
	}
	return s.updateLoad(ctx, id, gateway.Row{
		"driver_id": driverID,
		"status":    string(models.LoadStatusPending),
	})
}

// UnassignDriver clears the driver and leaves the status alone.
func (s *Service) UnassignDriver(ctx context.Context, id string) (models.Load, error) {
	return s.updateLoad(ctx, id, gateway.Row{"driver_id": nil})
}

// ApproveStopRequest is idempotent; approval is never revoked.
func (s *Service) ApproveStopRequest(ctx context.Context, id string) (models.TrackingStopRequest, error) {
	if id == "" {
		return models.TrackingStopRequest{}, ErrMissingFields
	}
	row, err := s.gw.Update(ctx, gateway.TableStopRequests, id, gateway.Row{"approved": true})
	if err != nil {
		return models.TrackingStopRequest{}, err
	}
	return gateway.Decode[models.TrackingStopRequest](row)
}

func (s *Service) getLoad(ctx context.Context, id string) (models.Load, error) {
	if id == "" {
		return models.Load{}, ErrMissingFields
	}
	rows, err := s.gw.List(ctx, gateway.TableLoads, gateway.Query{Eq: map[string]any{"id": id}, Limit: 1})
	if err != nil {
		return models.Load{}, err
	}
	if len(rows) == 0 {
		return models.Load{}, gateway.NewError("get", gateway.TableLoads, gateway.ErrNotFound)
	}
	return gateway.Decode[models.Load](rows[0])
}

func (s *Service) updateLoad(ctx context.Context, id string, patch gateway.Row) (models.Load, error) {
	if id == "" {
		return models.Load{}, ErrMissingFields
	}
	row, err := s.gw.Update(ctx, gateway.TableLoads, id, patch)
	if err != nil {
		return models.Load{}, err
	}
	return gateway.Decode[models.Load](row)
}

func normalizeDate(s string) (string, error) {
	ts, err := gateway.NormalizeTimestamp(s)
	if err != nil {
		return "", ErrInvalidDate
	}
	return ts, nil
}

// optionalNumber maps empty, zero and false to null, anything else to a
// finite, non-negative number. pallets must fit the INTEGER column.
func optionalNumber(field string, v any) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case bool:
		if !x {
			return nil, nil
		}
		v = int64(1)
	case string:
		if strings.TrimSpace(x) == "" {
			return nil, nil
		}
	}
	col, _ := gateway.LookupColumn(gateway.TableLoads, field)
	n, err := gateway.Coerce(col, v)
	if err != nil {
		return nil, invalidNumber(field)
	}
	switch x := n.(type) {
	case int64:
		if x < 0 || x > math.MaxInt32 {
			return nil, invalidNumber(field)
		}
		if x == 0 {
			return nil, nil
		}
	case float64:
		if x < 0 {
			return nil, invalidNumber(field)
		}
		if x == 0 {
			return nil, nil
		}
	}
	return n, nil
}

func optionalID(id *string) any {
	if id == nil || strings.TrimSpace(*id) == "" {
		return nil
	}
	return strings.TrimSpace(*id)
}
