package domain

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/bxcodec/faker/v3"
	"github.com/google/uuid"
)

var (
	userIDs      = []string{`user1`, `user2`, `user3`, `user4`, `user5`}
	eventTypes   = []string{EventPurchase, EventLogin, EventLogout, EventView, EventAddToCart}
	countries    = []string{`France`, `USA`, `Germany`, `UK`, `Spain`}
	customerIDs  = []string{`C001`, `C002`, `C003`, `C004`, `C005`}
	productCodes = []string{`AUTO`, `HOME`, `HEALTH`, `LIFE`, `TRAVEL`}
)

// PricingSeed is the initial content of the product-pricing table.
func PricingSeed() []ProductPricing {
	return []ProductPricing{
		{ProductCode: `AUTO`, ProductName: `Auto Insurance`, BasePrice: 500.0, TaxRate: 0.20},
		{ProductCode: `HOME`, ProductName: `Home Insurance`, BasePrice: 800.0, TaxRate: 0.15},
		{ProductCode: `HEALTH`, ProductName: `Health Insurance`, BasePrice: 1200.0, TaxRate: 0.10},
		{ProductCode: `LIFE`, ProductName: `Life Insurance`, BasePrice: 2000.0, TaxRate: 0.05},
		{ProductCode: `TRAVEL`, ProductName: `Travel Insurance`, BasePrice: 150.0, TaxRate: 0.25},
	}
}

// ProfileSeed is the initial content of the user-profiles table.
func ProfileSeed() []UserProfile {
	return []UserProfile{
		{UserID: `user1`, Name: `Alice`, Country: `France`, Tier: `GOLD`},
		{UserID: `user2`, Name: `Bob`, Country: `USA`, Tier: `SILVER`},
		{UserID: `user3`, Name: `Charlie`, Country: `Germany`, Tier: `BRONZE`},
		{UserID: `user4`, Name: `Diana`, Country: `UK`, Tier: `GOLD`},
		{UserID: `user5`, Name: `Eve`, Country: `Spain`, Tier: `SILVER`},
	}
}

// Generator builds random events and quotes for demo and load runs.
type Generator struct {
	rnd *rand.Rand
	now func() time.Time
}

func NewGenerator(seed int64) *Generator {
	return &Generator{
		rnd: rand.New(rand.NewSource(seed)),
		now: time.Now,
	}
}

func (g *Generator) pick(list []string) string {
	return list[g.rnd.Intn(len(list))]
}

func (g *Generator) Event() Event {
	return Event{
		ID:          uuid.New().String(),
		UserID:      g.pick(userIDs),
		Type:        g.pick(eventTypes),
		ProductCode: g.pick(productCodes),
		Amount:      g.rnd.Float64() * 200,
		Country:     g.pick(countries),
		Timestamp:   g.now().UnixMilli(),
	}
}

// Quote returns a quote which is VALIDATED 60% of the time, DRAFT 20% and CANCELLED 20%.
func (g *Generator) Quote() Quote {
	status := QuoteCancelled
	switch n := g.rnd.Intn(100); {
	case n < 60:
		status = QuoteValidated
	case n < 80:
		status = QuoteDraft
	}

	now := g.now().UnixMilli()
	return Quote{
		QuoteID:     fmt.Sprintf(`Q-%s`, uuid.New().String()[:8]),
		CustomerID:  g.pick(customerIDs),
		Status:      status,
		ProductCode: g.pick(productCodes),
		BasePremium: g.rnd.Float64()*500 + 100,
		CreatedAt:   now - g.rnd.Int63n(int64(24*time.Hour/time.Millisecond)),
		UpdatedAt:   now,
	}
}

// Profile returns a profile with a generated name for userID.
func (g *Generator) Profile(userID string) UserProfile {
	return UserProfile{
		UserID:  userID,
		Name:    faker.FirstName(),
		Country: g.pick(countries),
		Tier:    g.pick([]string{`BRONZE`, `SILVER`, `GOLD`}),
	}
}
