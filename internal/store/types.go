package store

import "time"

// Actor is a federated participant: local (no Domain) or remote.
type Actor struct {
	ID             int64
	URI            string
	Username       string
	Domain         string // empty for local actors
	Type           string // Person, Service, Application, Group, Organization
	InboxURI       string
	OutboxURI      string
	SharedInboxURI string
	DisplayName    string
	Summary        string
	IconURL        string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// IsLocal reports whether this actor is homed on this instance.
func (a *Actor) IsLocal() bool { return a.Domain == "" }

// KeyPair is the 1:1 RSA key row for an actor. PrivateKeyPEM is empty for
// remote actors.
type KeyPair struct {
	ActorID       int64
	KeyID         string
	PublicKeyPEM  string
	PrivateKeyPEM string
}

// ObjectType enumerates the ActivityStreams object types this engine stores.
const (
	ObjectNote     = "Note"
	ObjectArticle  = "Article"
	ObjectImage    = "Image"
	ObjectVideo    = "Video"
	ObjectAudio    = "Audio"
	ObjectDocument = "Document"
	ObjectPage     = "Page"
	ObjectEvent    = "Event"
)

// Visibility enumerates addressing classes for an Object.
const (
	VisibilityPublic    = "Public"
	VisibilityUnlisted  = "Unlisted"
	VisibilityFollowers = "Followers"
	VisibilityDirect    = "Direct"
)

// Object is a piece of content: a Note, Article, etc.
type Object struct {
	ID           int64
	URI          string
	Type         string
	ActorID      int64
	ContentHTML  string
	ContentText  string
	Summary      string
	InReplyToURI string
	Visibility   string
	PublishedAt  time.Time
	UpdatedAt    *time.Time
	DeletedAt    *time.Time
}

// Deleted reports whether this object has been tombstoned.
func (o *Object) Deleted() bool { return o.DeletedAt != nil }

// Activity types this engine understands in the inbox dispatcher.
const (
	ActivityCreate   = "Create"
	ActivityUpdate   = "Update"
	ActivityDelete   = "Delete"
	ActivityFollow   = "Follow"
	ActivityAccept   = "Accept"
	ActivityReject   = "Reject"
	ActivityUndo     = "Undo"
	ActivityLike     = "Like"
	ActivityAnnounce = "Announce"
	ActivityBlock    = "Block"
)

// Activity is an append-only record of an ActivityStreams activity, local or
// remote.
type Activity struct {
	ID          int64
	URI         string
	Type        string
	ActorURI    string
	ObjectURI   string
	TargetURI   string
	Raw         []byte
	Local       bool
	ProcessedAt *time.Time
	CreatedAt   time.Time
}

// Follow is a row in the follow graph, keyed by the (follower, following) pair.
type Follow struct {
	ID          int64
	FollowerID  int64
	FollowingID int64
	URI         string
	Accepted    bool
	CreatedAt   time.Time
}

// Delivery status enum.
const (
	DeliveryQueued    = "Queued"
	DeliveryInFlight  = "InFlight"
	DeliveryDelivered = "Delivered"
	DeliveryFailed    = "Failed"
	DeliveryExpired   = "Expired"
)

// Delivery is a single queued outbound POST of one activity to one inbox.
type Delivery struct {
	ID             int64
	ActivityID     int64
	InboxURI       string
	Status         string
	Attempts       int
	NextRetryAt    time.Time
	LastAttemptAt  *time.Time
	LastStatusCode *int
	LastError      string
	CreatedAt      time.Time
}

// Terminal reports whether this delivery will never be retried again.
func (d *Delivery) Terminal() bool {
	return d.Status == DeliveryDelivered || d.Status == DeliveryExpired
}

// ActorStats holds denormalized counts for cheap profile rendering.
type ActorStats struct {
	ActorID   int64
	Followers int
	Following int
	Posts     int
}

// PendingDelivery is the payload a worker receives from ClaimDeliveries: the
// claimed delivery plus everything needed to sign and POST it.
type PendingDelivery struct {
	Delivery      Delivery
	ActivityJSON  []byte
	SenderKeyID   string
	PrivateKeyPEM string
}
