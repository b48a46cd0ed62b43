package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nugget/vendorbot/internal/actionlog"
	"github.com/nugget/vendorbot/internal/commerce"
	"github.com/nugget/vendorbot/internal/insights"
	"github.com/nugget/vendorbot/internal/marketing"
	"github.com/nugget/vendorbot/internal/memory"
)

var tracer = otel.Tracer("github.com/nugget/vendorbot/internal/tools")

const (
	// DefaultTimeout bounds one tool invocation.
	DefaultTimeout = 30 * time.Second

	// logWriteTimeout bounds the action log write after a call.
	logWriteTimeout = 2 * time.Second
)

// Commerce is the backend surface the handlers use. *commerce.Client
// implements it.
type Commerce interface {
	GetStore(ctx context.Context, id int64) (*commerce.Store, error)
	SearchStores(ctx context.Context, search string) ([]commerce.Store, error)
	StoreStats(ctx context.Context, storeID int64) (*commerce.StoreStats, error)
	ListStoreProducts(ctx context.Context, storeID int64, q commerce.ProductQuery) ([]commerce.Product, error)
	GetProduct(ctx context.Context, id int64) (*commerce.Product, error)
	CreateProduct(ctx context.Context, in commerce.ProductInput) (*commerce.Product, error)
	UpdateProduct(ctx context.Context, id int64, in commerce.ProductInput) (*commerce.Product, error)
	DeleteProduct(ctx context.Context, id int64, force bool) (*commerce.Product, error)
	ListStoreOrders(ctx context.Context, storeID int64, q commerce.OrderQuery) ([]commerce.Order, error)
	GetOrder(ctx context.Context, id int64) (*commerce.Order, error)
	UpdateOrderStatus(ctx context.Context, id int64, status string) (*commerce.Order, error)
	ListCategories(ctx context.Context, q commerce.CategoryQuery) ([]commerce.Category, error)
	CreateEvent(ctx context.Context, in commerce.EventInput) (*commerce.Event, error)
}

// AdWriter generates ad copy. *marketing.Generator implements it.
type AdWriter interface {
	Generate(ctx context.Context, req marketing.AdRequest) (*marketing.Ad, error)
}

// Call is one tool invocation requested by the model.
type Call struct {
	ID   string
	Name string
	Args Args
}

// Result is the outcome of a call. It is serialized as the tool result
// the model sees.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`

	// ContextChanged is set when the call altered the identity's
	// linkage and the conversation context must be rebuilt.
	ContextChanged bool `json:"-"`
}

// JSON returns the encoded result.
func (r *Result) JSON() json.RawMessage {
	data, err := json.Marshal(r)
	if err != nil {
		return json.RawMessage(fmt.Sprintf(`{"success":false,"error":%q}`, "result could not be encoded"))
	}
	return data
}

// Handler executes one tool.
type Handler func(ctx context.Context, args Args, cc *memory.ConversationContext) (*Result, error)

func success(message string, data any) *Result {
	return &Result{Success: true, Message: message, Data: data}
}

func fail(format string, a ...any) *Result {
	return &Result{Success: false, Error: fmt.Sprintf(format, a...)}
}

// Deps are the collaborators handed to NewDispatcher.
type Deps struct {
	Commerce Commerce
	Store    memory.Store
	Ads      AdWriter
	Log      actionlog.Sink
	Logger   *slog.Logger
	Timeout  time.Duration
}

// Dispatcher maps tool names to handlers. It is safe for concurrent use.
type Dispatcher struct {
	commerce Commerce
	store    memory.Store
	ads      AdWriter
	insights *insights.Engine
	log      actionlog.Sink
	logger   *slog.Logger
	timeout  time.Duration
	now      func() time.Time

	handlers map[string]Handler
}

// NewDispatcher builds the handler registry and checks it against the
// catalog. Every declared tool must have exactly one handler and every
// handler a declaration.
func NewDispatcher(deps Deps) (*Dispatcher, error) {
	if deps.Commerce == nil {
		return nil, errors.New("tools: commerce backend is required")
	}
	if deps.Store == nil {
		return nil, errors.New("tools: conversation store is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := deps.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	d := &Dispatcher{
		commerce: deps.Commerce,
		store:    deps.Store,
		ads:      deps.Ads,
		insights: insights.NewEngine(deps.Commerce),
		log:      deps.Log,
		logger:   logger.With("component", "tools"),
		timeout:  timeout,
		now:      time.Now,
	}
	d.handlers = map[string]Handler{
		"list_products":         d.listProducts,
		"get_product":           d.getProduct,
		"create_product":        d.createProduct,
		"update_product":        d.updateProduct,
		"delete_product":        d.deleteProduct,
		"list_orders":           d.listOrders,
		"get_order":             d.getOrder,
		"update_order_status":   d.updateOrderStatus,
		"list_categories":       d.listCategories,
		"get_vendor_profile":    d.getVendorProfile,
		"get_vendor_stats":      d.getVendorStats,
		"create_event":          d.createEvent,
		"verify_vendor":         d.verifyVendor,
		"generate_ad_copy":      d.generateAdCopy,
		"get_business_insights": d.getBusinessInsights,
		"get_help":              d.getHelp,
	}

	if err := checkRegistry(definitions, d.handlers); err != nil {
		return nil, err
	}
	return d, nil
}

// checkRegistry verifies a 1:1 correspondence between declarations and
// handlers.
func checkRegistry(defs []Definition, handlers map[string]Handler) error {
	var errs []error
	declared := make(map[string]bool, len(defs))
	for _, def := range defs {
		if declared[def.Name] {
			errs = append(errs, fmt.Errorf("tool %q declared twice", def.Name))
		}
		declared[def.Name] = true
		if handlers[def.Name] == nil {
			errs = append(errs, fmt.Errorf("tool %q has no handler", def.Name))
		}
	}
	var extra []string
	for name := range handlers {
		if !declared[name] {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	for _, name := range extra {
		errs = append(errs, fmt.Errorf("handler %q is not in the catalog", name))
	}
	if len(errs) > 0 {
		return fmt.Errorf("tools: catalog %s mismatch: %w", CatalogVersion, errors.Join(errs...))
	}
	return nil
}

// Execute runs call and always returns a result. Unknown tools, handler
// errors, panics and timeouts all become failure results. Exactly one
// action log entry is written per call.
func (d *Dispatcher) Execute(ctx context.Context, call Call, cc *memory.ConversationContext) *Result {
	if call.Args == nil {
		call.Args = Args{}
	}

	ctx, span := tracer.Start(ctx, "tools.execute", trace.WithAttributes(
		attribute.String("tool.name", call.Name),
		attribute.String("tool.call_id", call.ID),
	))
	defer span.End()

	start := d.now()
	res := d.run(ctx, call, cc)
	elapsed := d.now().Sub(start)
	if elapsed < 0 {
		elapsed = 0
	}

	span.SetAttributes(attribute.Bool("tool.success", res.Success))
	if !res.Success {
		span.SetStatus(codes.Error, res.Error)
	}

	d.logger.Debug("tool executed",
		"tool", call.Name,
		"call_id", call.ID,
		"success", res.Success,
		"elapsed", elapsed.Round(time.Millisecond),
	)

	d.record(ctx, call, cc, res, elapsed)
	return res
}

type outcome struct {
	res *Result
	err error
}

func (d *Dispatcher) run(ctx context.Context, call Call, cc *memory.ConversationContext) *Result {
	h, found := d.handlers[call.Name]
	if !found {
		d.logger.Warn("unknown tool requested", "tool", call.Name, "call_id", call.ID)
		return fail("unknown tool %q", call.Name)
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("tool handler panicked", "tool", call.Name, "panic", r)
				done <- outcome{err: fmt.Errorf("internal error in %s", call.Name)}
			}
		}()
		res, err := h(ctx, call.Args, cc)
		done <- outcome{res: res, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			return &Result{Success: false, Error: o.err.Error()}
		}
		if o.res == nil {
			return fail("%s returned no result", call.Name)
		}
		return o.res
	case <-ctx.Done():
		return fail("%s timed out after %s", call.Name, d.timeout)
	}
}

// record writes the action log entry. Failures are logged and dropped.
func (d *Dispatcher) record(ctx context.Context, call Call, cc *memory.ConversationContext, res *Result, elapsed time.Duration) {
	if d.log == nil {
		return
	}
	entry := &actionlog.Entry{
		ToolName:   call.Name,
		ToolCallID: call.ID,
		Input:      call.Args.JSON(),
		Output:     res.JSON(),
		Success:    res.Success,
		Error:      res.Error,
		Duration:   elapsed,
	}
	if cc != nil {
		entry.ConversationID = cc.ConversationID
		entry.Identity = cc.Identity
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), logWriteTimeout)
	defer cancel()
	if err := d.log.Append(ctx, entry); err != nil {
		d.logger.Warn("action log write failed", "tool", call.Name, "error", err)
	}
}

// requireStore returns the linked store ID or a failure asking the
// model to verify the vendor first.
func requireStore(cc *memory.ConversationContext) (int64, *Result) {
	if !cc.Authorized() {
		return 0, &Result{
			Success: false,
			Error:   "this WhatsApp number is not linked to a verified store",
			Message: "Ask the vendor for their store ID or the email registered on their store, then call verify_vendor.",
		}
	}
	return cc.StoreID, nil
}
