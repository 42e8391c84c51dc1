package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Role string

const (
	RoleAdmin      Role = "admin"
	RoleSupervisor Role = "supervisor"
	RoleFOS        Role = "fos"
	RoleRetailer   Role = "retailer"
	RoleTechnician Role = "technician"
)

// Level is the depth of the role in the hierarchy. Technicians sit beside FOS under a supervisor.
func (r Role) Level() int {
	switch r {
	case RoleAdmin:
		return 0
	case RoleSupervisor:
		return 1
	case RoleFOS, RoleTechnician:
		return 2
	case RoleRetailer:
		return 3
	default:
		return -1
	}
}

func (r Role) Valid() bool {
	return r.Level() >= 0
}

type SupervisorCategory string

const (
	CategorySales   SupervisorCategory = "sales"
	CategoryService SupervisorCategory = "service"
	CategoryBoth    SupervisorCategory = "both"
)

func (c SupervisorCategory) HandlesSales() bool {
	return c == CategorySales || c == CategoryBoth
}

func (c SupervisorCategory) HandlesService() bool {
	return c == CategoryService || c == CategoryBoth
}

type TechnicianType string

const (
	TechnicianOwn       TechnicianType = "own"
	TechnicianFreelance TechnicianType = "freelance"
)

type Actor struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Role     Role   `json:"role"`
}

type User struct {
	ID                 string             `json:"id"`
	Username           string             `json:"username"`
	Name               string             `json:"name"`
	Role               Role               `json:"role"`
	SupervisorID       string             `json:"supervisor_id,omitempty"`
	SupervisorCategory SupervisorCategory `json:"supervisor_category,omitempty"`
	TechnicianType     TechnicianType     `json:"technician_type,omitempty"`
	Phone              string             `json:"phone,omitempty"`
	WhatsApp           string             `json:"whatsapp,omitempty"`
	CollectionAmount   decimal.Decimal    `json:"collection_amount"`
	PaymentWallet      decimal.Decimal    `json:"payment_wallet"`
	PaidToCompany      decimal.Decimal    `json:"paid_to_company"`
	Active             bool               `json:"active"`
	PasswordHash       string             `json:"-"`
	CreatedAt          time.Time          `json:"created_at"`
}

type UserFilter struct {
	Role         Role
	SupervisorID string
}

type Operator struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type OperatorPrice struct {
	OperatorID    string          `json:"operator_id"`
	PurchasePrice decimal.Decimal `json:"purchase_price"`
	SellingPrice  decimal.Decimal `json:"selling_price"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

type Product struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	OperatorID string          `json:"operator_id,omitempty"`
	Serialized bool            `json:"serialized"`
	Meterable  bool            `json:"meterable"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Stock is one InventoryLedger row: how much of a product an owner holds.
type Stock struct {
	OwnerID     string          `json:"owner_id"`
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name,omitempty"`
	Qty         decimal.Decimal `json:"qty"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

type UnitKind string

const (
	UnitSIM     UnitKind = "sim"
	UnitHandset UnitKind = "handset"
	UnitProduct UnitKind = "product"
)

func (k UnitKind) Valid() bool {
	return k == UnitSIM || k == UnitHandset || k == UnitProduct
}

type UnitStatus string

const (
	UnitAvailable UnitStatus = "available"
	UnitSold      UnitStatus = "sold"
	UnitReturned  UnitStatus = "returned"
	UnitDefective UnitStatus = "defective"
	UnitUsed      UnitStatus = "used"
)

type SerializedUnit struct {
	Serial        string          `json:"serial"`
	Kind          UnitKind        `json:"kind"`
	OperatorID    string          `json:"operator_id,omitempty"`
	ProductID     string          `json:"product_id,omitempty"`
	Model         string          `json:"model,omitempty"`
	HolderID      string          `json:"holder_id"`
	Status        UnitStatus      `json:"status"`
	PurchasePrice decimal.Decimal `json:"purchase_price"`
	SellingPrice  decimal.Decimal `json:"selling_price"`
	PurchaseID    string          `json:"purchase_id,omitempty"`
	UsedInWorkID  string          `json:"used_in_work_id,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

type UnitFilter struct {
	HolderID   string
	Kind       UnitKind
	Status     UnitStatus
	OperatorID string
	ProductID  string
	Limit      int
}

type Purchase struct {
	ID         string    `json:"id"`
	Kind       UnitKind  `json:"kind"`
	OperatorID string    `json:"operator_id,omitempty"`
	ProductID  string    `json:"product_id,omitempty"`
	BillNumber string    `json:"bill_number,omitempty"`
	BillDate   time.Time `json:"bill_date"`
	Quantity   int       `json:"quantity"`
	CreatedBy  string    `json:"created_by"`
	CreatedAt  time.Time `json:"created_at"`
}

type TransferType string

const (
	TransferForward TransferType = "transfer"
	TransferReturn  TransferType = "return"
)

type TransferStatus string

const (
	TransferPending  TransferStatus = "pending"
	TransferAccepted TransferStatus = "accepted"
	TransferRejected TransferStatus = "rejected"
)

// UnitTransfer is one serial's row inside a batch. Rows of a batch share BatchID.
type UnitTransfer struct {
	ID          string         `json:"id"`
	BatchID     string         `json:"batch_id"`
	Serial      string         `json:"serial"`
	Kind        UnitKind       `json:"kind"`
	FromID      string         `json:"from_id"`
	ToID        string         `json:"to_id"`
	Type        TransferType   `json:"type"`
	Status      TransferStatus `json:"status"`
	Remark      string         `json:"remark,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	ProcessedAt *time.Time     `json:"processed_at,omitempty"`
}

type UnitTransferFilter struct {
	UserID  string
	ToID    string
	BatchID string
	Status  TransferStatus
	Limit   int
}

type PendingBatch struct {
	BatchID   string       `json:"batch_id"`
	FromID    string       `json:"from_id"`
	Kind      UnitKind     `json:"kind"`
	Type      TransferType `json:"type"`
	Count     int          `json:"count"`
	Serials   []string     `json:"serials"`
	Remark    string       `json:"remark,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
}

type StockTransfer struct {
	ID          string          `json:"id"`
	ProductID   string          `json:"product_id"`
	Qty         decimal.Decimal `json:"qty"`
	FromID      string          `json:"from_id"`
	ToID        string          `json:"to_id"`
	Type        TransferType    `json:"type"`
	Status      TransferStatus  `json:"status"`
	Remark      string          `json:"remark,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	ProcessedAt *time.Time      `json:"processed_at,omitempty"`
}

// CashTransfer moves collected cash responsibility upward (technician to supervisor, supervisor to admin).
type CashTransfer struct {
	ID          string          `json:"id"`
	FromID      string          `json:"from_id"`
	ToID        string          `json:"to_id"`
	Amount      decimal.Decimal `json:"amount"`
	Status      TransferStatus  `json:"status"`
	Remark      string          `json:"remark,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	ProcessedAt *time.Time      `json:"processed_at,omitempty"`
}

type TechnicianPayment struct {
	ID           string          `json:"id"`
	SupervisorID string          `json:"supervisor_id"`
	TechnicianID string          `json:"technician_id"`
	WorkOrderID  string          `json:"work_order_id,omitempty"`
	Amount       decimal.Decimal `json:"amount"`
	Status       TransferStatus  `json:"status"`
	Remark       string          `json:"remark,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	ProcessedAt  *time.Time      `json:"processed_at,omitempty"`
}

type Channel string

const (
	ChannelEC      Channel = "ec"
	ChannelSIM     Channel = "sim"
	ChannelHandset Channel = "handset"
)

func (c Channel) Valid() bool {
	return c == ChannelEC || c == ChannelSIM || c == ChannelHandset
}

// ChannelForUnit maps a serialized unit kind to the wallet channel its sales are owed on.
func ChannelForUnit(kind UnitKind) (Channel, bool) {
	switch kind {
	case UnitSIM:
		return ChannelSIM, true
	case UnitHandset:
		return ChannelHandset, true
	default:
		return "", false
	}
}

type WalletKey struct {
	HolderID   string  `json:"holder_id"`
	OperatorID string  `json:"operator_id"`
	Channel    Channel `json:"channel"`
}

// Wallet is the outstanding debt a holder owes the next level up for one operator and channel.
type Wallet struct {
	WalletKey
	OperatorName   string          `json:"operator_name,omitempty"`
	PendingAmount  decimal.Decimal `json:"pending_amount"`
	TotalIssued    decimal.Decimal `json:"total_issued"`
	TotalCollected decimal.Decimal `json:"total_collected"`
	TotalPaid      decimal.Decimal `json:"total_paid"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// WalletDelta is applied atomically to a wallet row, creating it when missing.
type WalletDelta struct {
	Pending   decimal.Decimal
	Issued    decimal.Decimal
	Collected decimal.Decimal
	Paid      decimal.Decimal
}

type WalletFilter struct {
	HolderID     string
	OperatorID   string
	Channel      Channel
	PositiveOnly bool
}

type CollectionLevel string

const (
	LevelRetailerToFOS     CollectionLevel = "retailer_to_fos"
	LevelFOSToSupervisor   CollectionLevel = "fos_to_supervisor"
	LevelSupervisorToAdmin CollectionLevel = "supervisor_to_admin"
)

type Collection struct {
	ID             string          `json:"id"`
	Level          CollectionLevel `json:"level"`
	Channel        Channel         `json:"channel"`
	OperatorID     string          `json:"operator_id"`
	FromID         string          `json:"from_id"`
	ToID           string          `json:"to_id"`
	CollectedBy    string          `json:"collected_by"`
	Amount         decimal.Decimal `json:"amount"`
	PendingBefore  decimal.Decimal `json:"pending_before"`
	PendingAfter   decimal.Decimal `json:"pending_after"`
	CollectionDate time.Time       `json:"collection_date"`
	Remarks        string          `json:"remarks,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

type CollectionFilter struct {
	UserID  string
	Channel Channel
	Limit   int
}

type EcSale struct {
	OrderID                 string          `json:"order_id"`
	OrderDate               time.Time       `json:"order_date"`
	PartnerID               string          `json:"partner_id,omitempty"`
	PartnerName             string          `json:"partner_name"`
	TransferAmount          decimal.Decimal `json:"transfer_amount"`
	Commission              decimal.Decimal `json:"commission"`
	AmountWithoutCommission decimal.Decimal `json:"amount_without_commission"`
	OperatorID              string          `json:"operator_id"`
	SupervisorID            string          `json:"supervisor_id,omitempty"`
	FosID                   string          `json:"fos_id"`
	RetailerID              string          `json:"retailer_id"`
	UploadedBy              string          `json:"uploaded_by"`
	CreatedAt               time.Time       `json:"created_at"`
}

type WorkStatus string

const (
	WorkPending   WorkStatus = "Pending"
	WorkExpired   WorkStatus = "Expired"
	WorkClosed    WorkStatus = "Closed"
	WorkCancelled WorkStatus = "Cancelled"
)

func (s WorkStatus) Terminal() bool {
	return s == WorkClosed || s == WorkCancelled
}

type WorkOrder struct {
	ID                   string          `json:"id"`
	CustomerName         string          `json:"customer_name"`
	MobileNo             string          `json:"mobile_no"`
	WhatsAppNo           string          `json:"whatsapp_no,omitempty"`
	Address              string          `json:"address,omitempty"`
	Pincode              string          `json:"pincode"`
	OperatorID           string          `json:"operator_id,omitempty"`
	ServiceType          string          `json:"service_type,omitempty"`
	SupervisorID         string          `json:"supervisor_id"`
	AssignedTechnicianID string          `json:"assigned_technician_id,omitempty"`
	Status               WorkStatus      `json:"status"`
	DeadlineAt           time.Time       `json:"deadline_at"`
	Amount               decimal.Decimal `json:"amount"`
	ClosingOTP           string          `json:"-"`
	OTPSentAt            *time.Time      `json:"otp_sent_at,omitempty"`
	ClosedAt             *time.Time      `json:"closed_at,omitempty"`
	CreatedBy            string          `json:"created_by"`
	CreatedAt            time.Time       `json:"created_at"`
}

type WorkOrderFilter struct {
	SupervisorID string
	TechnicianID string
	CreatedBy    string
	Status       WorkStatus
	WithOTP      bool
	Limit        int
}

type MaterialLine struct {
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	Qty         decimal.Decimal `json:"qty"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	LineTotal   decimal.Decimal `json:"line_total"`
	Serials     []string        `json:"serials,omitempty"`
}

const RepairSwapping = "Swapping"

type WorkReport struct {
	WorkOrderID             string          `json:"work_order_id"`
	Materials               []MaterialLine  `json:"materials"`
	SubtotalAmount          decimal.Decimal `json:"subtotal_amount"`
	CollectedAmount         decimal.Decimal `json:"collected_amount"`
	WhoCollectedID          string          `json:"who_collected_id,omitempty"`
	RepairType              string          `json:"repair_type,omitempty"`
	ReturnedProductID       string          `json:"returned_product_id,omitempty"`
	ReturnedSerial          string          `json:"returned_serial,omitempty"`
	ReturnedQty             decimal.Decimal `json:"returned_qty"`
	FreelancerPaymentAmount decimal.Decimal `json:"freelancer_payment_amount"`
	CancellationRemark      string          `json:"cancellation_remark,omitempty"`
	UpdatedAt               time.Time       `json:"updated_at"`
}

type OtpEntry struct {
	WorkOrderID  string     `json:"work_order_id"`
	CustomerName string     `json:"customer_name"`
	OTP          string     `json:"otp"`
	SentAt       *time.Time `json:"sent_at,omitempty"`
	Status       WorkStatus `json:"status"`
}

type AuditLog struct {
	ID         string    `json:"id"`
	Actor      string    `json:"actor"`
	Action     string    `json:"action"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	Detail     string    `json:"detail"`
	CreatedAt  time.Time `json:"created_at"`
}
