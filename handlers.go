package main

import (
	"bytes"
	"context"
	"embed"
	"html/template"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"vm-console/config"
	"vm-console/dispatch"
	"vm-console/logging"
	"vm-console/metrics"
	"vm-console/prefs"
	"vm-console/sidebar"
	"vm-console/tree"
	"vm-console/upstream"
	"vm-console/wizard"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var (
	indexTemplate   = template.Must(template.ParseFS(templateFS, "templates/index.html.tmpl"))
	consoleTemplate = template.Must(template.ParseFS(templateFS, "templates/console.html.tmpl"))
)

const (
	profileCookie = "vmc_profile"
	profileLocal  = "profile"
)

// Upstream is everything the console asks of the management server.
type Upstream interface {
	dispatch.Upstream
	wizard.Upstream
}

type IndexData struct {
	Theme   prefs.Theme
	Sidebar template.HTML
	Error   string
}

// ConsoleData fills the console page of one VM.
type ConsoleData struct {
	Theme prefs.Theme
	Node  string
	VMID  string
	Type  string
}

// server holds what the handlers share. Each browser profile gets its own
// dispatcher so reload ordering is tracked per profile; at most
// cfg.MaxProfiles are kept and those idle for cfg.ProfileIdle are dropped.
type server struct {
	cfg   *config.Config
	up    Upstream
	store *prefs.Store

	mu          sync.Mutex
	dispatchers *expirable.LRU[string, *dispatch.Dispatcher]
}

func newServer(cfg *config.Config, up Upstream, store *prefs.Store) *server {
	return &server{
		cfg:         cfg,
		up:          up,
		store:       store,
		dispatchers: expirable.NewLRU[string, *dispatch.Dispatcher](cfg.MaxProfiles, nil, cfg.ProfileIdle),
	}
}

// logNotices reports dispatcher notices in the server log; browsers get the
// same message in the JSON answer.
var logNotices = dispatch.NotifierFunc(func(n dispatch.Notice) {
	logging.L().Info("notice", zap.String("level", string(n.Level)), zap.String("message", n.Message))
})

func (s *server) dispatcher(profileID string) *dispatch.Dispatcher {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.dispatchers.Get(profileID)
	if !ok {
		d = dispatch.New(s.up, logNotices)
	}
	// re-adding restarts the idle timer
	s.dispatchers.Add(profileID, d)
	return d
}

func (s *server) routes() *fiber.App {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if fe, ok := err.(*fiber.Error); ok {
				code = fe.Code
			}
			if code >= fiber.StatusInternalServerError {
				logging.L().Error("request failed", zap.String("request_id", logging.RequestID(c)), zap.Error(err))
			}
			return c.Status(code).JSON(fiber.Map{
				"success": false,
				"error":   err.Error(),
			})
		},
	})

	app.Use(cors.New())
	app.Use(logging.Middleware())

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/metrics", metrics.Handler())

	app.Use(profileMiddleware)

	app.Get("/", s.handleIndex)
	app.Get("/vm/:node/:vmid", s.handleConsolePage)
	app.Get("/api/vm-tree", s.handleTree)
	app.Post("/api/move-item", s.handleMove)
	app.Get("/api/move-targets", s.handleMoveTargets)
	app.Post("/api/folders", s.handleCreateFolder)
	app.Put("/api/folders/:id", s.handleRenameFolder)
	app.Delete("/api/folders/:id", s.handleDeleteFolder)
	app.Post("/api/expand/:id", s.handleExpand)
	app.Post("/api/theme/toggle", s.handleThemeToggle)
	app.Get("/api/vm/wizard", s.handleWizard)
	app.Post("/api/vm/create", s.handleCreateVM)

	// WebSocket upgrade middleware
	upgradeOnly := func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	}
	app.Use("/ws", upgradeOnly)
	app.Use("/console", upgradeOnly)
	app.Get("/ws/tree", websocket.New(s.handleTreeSocket))
	app.Get("/console/:node/:vmid", websocket.New(s.handleConsoleSocket))

	return app
}

// profileMiddleware assigns each browser a profile id, kept in a cookie, that
// keys its saved expand state and theme.
func profileMiddleware(c *fiber.Ctx) error {
	id := c.Cookies(profileCookie)
	if _, err := uuid.Parse(id); err != nil {
		id = uuid.NewString()
		c.Cookie(&fiber.Cookie{
			Name:     profileCookie,
			Value:    id,
			Path:     "/",
			Expires:  time.Now().AddDate(1, 0, 0),
			HTTPOnly: true,
			SameSite: fiber.CookieSameSiteLaxMode,
		})
	}
	c.Locals(profileLocal, id)
	return c.Next()
}

func profileID(c *fiber.Ctx) string {
	id, _ := c.Locals(profileLocal).(string)
	return id
}

// renderTree turns a payload into sidebar markup for a profile. Server-rendered
// markup is passed through when no structured data came back.
func (s *server) renderTree(profile string, payload *upstream.TreePayload, query string) (string, error) {
	if payload == nil {
		return "", nil
	}
	if payload.Data == nil {
		return payload.HTML, nil
	}
	forest, err := sidebar.Compose(s.store, profile, payload.Data.Folders, payload.Data.VMs, query)
	if err != nil {
		return "", err
	}
	return tree.SidebarHTML(forest)
}

// loadTree reloads and renders. A superseded reload renders the tree that won.
func (s *server) loadTree(ctx context.Context, profile, query string) (string, dispatch.Result) {
	d := s.dispatcher(profile)
	res := d.Reload(ctx)
	switch res.Outcome {
	case dispatch.Applied:
	case dispatch.Stale:
		res.Tree = d.Tree()
	default:
		return "", res
	}
	html, err := s.renderTree(profile, res.Tree, query)
	if err != nil {
		logging.L().Error("render sidebar", zap.Error(err))
		return "", dispatch.Result{Outcome: dispatch.Failed, Message: "Failed to render VM tree: " + err.Error()}
	}
	return html, res
}

func (s *server) handleIndex(c *fiber.Ctx) error {
	profile := profileID(c)
	data := IndexData{Theme: s.store.Theme(profile)}

	html, res := s.loadTree(c.UserContext(), profile, "")
	if res.Message != "" {
		data.Error = res.Message
	}
	data.Sidebar = template.HTML(html)

	var buf bytes.Buffer
	if err := indexTemplate.Execute(&buf, data); err != nil {
		return err
	}
	c.Set(fiber.HeaderContentType, fiber.MIMETextHTMLCharsetUTF8)
	return c.Send(buf.Bytes())
}

// handleConsolePage serves the page a VM row links to. Its script opens the
// console relay for the VM and paints what the relay reports.
func (s *server) handleConsolePage(c *fiber.Ctx) error {
	node, err := url.PathUnescape(c.Params("node"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid node")
	}
	vmid, err := url.PathUnescape(c.Params("vmid"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid VM id")
	}
	data := ConsoleData{
		Theme: s.store.Theme(profileID(c)),
		Node:  node,
		VMID:  vmid,
		Type:  c.Query("type", "qemu"),
	}

	var buf bytes.Buffer
	if err := consoleTemplate.Execute(&buf, data); err != nil {
		return err
	}
	c.Set(fiber.HeaderContentType, fiber.MIMETextHTMLCharsetUTF8)
	return c.Send(buf.Bytes())
}

func (s *server) handleTree(c *fiber.Ctx) error {
	html, res := s.loadTree(c.UserContext(), profileID(c), c.Query("q"))
	if res.Message != "" {
		return c.Status(statusFor(res.Outcome)).JSON(fiber.Map{"success": false, "error": res.Message})
	}
	return c.JSON(fiber.Map{"success": true, "html": html})
}

// statusFor maps an outcome to the HTTP status of its answer.
func statusFor(o dispatch.Outcome) int {
	switch o {
	case dispatch.Rejected, dispatch.Cancelled:
		return fiber.StatusBadRequest
	case dispatch.Failed:
		return fiber.StatusConflict
	case dispatch.Unreachable:
		return fiber.StatusBadGateway
	}
	return fiber.StatusOK
}

// respond answers a mutation, with the refreshed sidebar when it went through.
func (s *server) respond(c *fiber.Ctx, res dispatch.Result, extra fiber.Map) error {
	if !res.OK() {
		msg := res.Message
		if res.Outcome == dispatch.Cancelled {
			msg = "Confirmation required"
		}
		return c.Status(statusFor(res.Outcome)).JSON(fiber.Map{"success": false, "error": msg})
	}

	body := fiber.Map{"success": true}
	for k, v := range extra {
		body[k] = v
	}
	html, err := s.renderTree(profileID(c), res.Tree, "")
	if err != nil {
		logging.L().Warn("render sidebar after mutation", zap.Error(err))
	} else if res.Tree != nil {
		body["html"] = html
	}
	if res.Message != "" {
		body["message"] = res.Message
	}
	return c.JSON(body)
}

func (s *server) handleMove(c *fiber.Ctx) error {
	opsInProgress.Add(1)
	defer opsInProgress.Done()

	var req upstream.MoveRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}

	res := s.dispatcher(profileID(c)).Move(c.UserContext(), req)
	return s.respond(c, res, nil)
}

func (s *server) handleMoveTargets(c *fiber.Ctx) error {
	itemID := c.Query("item_id")
	itemType := c.Query("item_type")
	if itemID == "" || (itemType != tree.ItemVM && itemType != tree.ItemFolder) {
		return fiber.NewError(fiber.StatusBadRequest, "item_id and item_type (vm or folder) are required")
	}

	d := s.dispatcher(profileID(c))
	payload := d.Tree()
	if payload == nil || payload.Data == nil {
		res := d.Reload(c.UserContext())
		if res.Message != "" {
			return c.Status(statusFor(res.Outcome)).JSON(fiber.Map{"success": false, "error": res.Message})
		}
		payload = d.Tree()
	}
	if payload == nil || payload.Data == nil {
		return fiber.NewError(fiber.StatusBadGateway, "Management server did not return folder data")
	}

	html, err := tree.PickerHTML(tree.Picker(payload.Data.Folders, itemID, itemType))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "html": html})
}

type folderBody struct {
	Name     string `json:"name"`
	ParentID string `json:"parent_id"`
}

func (s *server) handleCreateFolder(c *fiber.Ctx) error {
	opsInProgress.Add(1)
	defer opsInProgress.Done()

	var body folderBody
	if err := c.BodyParser(&body); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}

	res := s.dispatcher(profileID(c)).CreateFolder(c.UserContext(), body.Name, body.ParentID)
	var extra fiber.Map
	if res.FolderID != "" {
		extra = fiber.Map{"folder_id": res.FolderID}
	}
	return s.respond(c, res, extra)
}

func (s *server) handleRenameFolder(c *fiber.Ctx) error {
	opsInProgress.Add(1)
	defer opsInProgress.Done()

	var body folderBody
	if err := c.BodyParser(&body); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}

	res := s.dispatcher(profileID(c)).Rename(c.UserContext(), c.Params("id"), body.Name)
	return s.respond(c, res, nil)
}

func (s *server) handleDeleteFolder(c *fiber.Ctx) error {
	opsInProgress.Add(1)
	defer opsInProgress.Done()

	folderID := c.Params("id")
	profile := profileID(c)
	confirmed := dispatch.Always(c.QueryBool("confirm"))

	res := s.dispatcher(profile).Delete(c.UserContext(), folderID, confirmed)
	if res.OK() {
		if err := s.store.Forget(profile, folderID); err != nil {
			logging.L().Warn("forget folder state", zap.String("folder_id", folderID), zap.Error(err))
		}
	}
	return s.respond(c, res, nil)
}

func (s *server) handleExpand(c *fiber.Ctx) error {
	var body struct {
		Expanded bool `json:"expanded"`
	}
	if err := c.BodyParser(&body); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}

	folderID := c.Params("id")
	if err := s.store.SetExpanded(profileID(c), folderID, body.Expanded); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "id": folderID, "expanded": body.Expanded})
}

func (s *server) handleThemeToggle(c *fiber.Ctx) error {
	theme, err := s.store.ToggleTheme(profileID(c))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "theme": theme})
}

func (s *server) handleWizard(c *fiber.Ctx) error {
	opts := wizard.LoadOptions(c.UserContext(), s.up)
	return c.JSON(fiber.Map{"success": true, "options": opts})
}

func (s *server) handleCreateVM(c *fiber.Ctx) error {
	opsInProgress.Add(1)
	defer opsInProgress.Done()

	var form wizard.Form
	if err := c.BodyParser(&form); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}

	res := wizard.New(s.up, logNotices).Create(c.UserContext(), form)
	if !res.OK() {
		return c.Status(statusFor(res.Outcome)).JSON(fiber.Map{"success": false, "error": res.Message})
	}
	return c.JSON(fiber.Map{"success": true, "message": res.Message})
}

// consoleURL fills the node and vmid placeholders of the console endpoint.
func consoleURL(pattern, node, vmid string) string {
	return strings.NewReplacer("{node}", url.PathEscape(node), "{vmid}", url.PathEscape(vmid)).Replace(pattern)
}
