package guest

import "sort"

type MenuItem struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	PriceCents  int    `json:"priceCents"`
	Description string `json:"desc"`
}

type MenuCategory struct {
	ID    string     `json:"id"`
	Name  string     `json:"name"`
	Items []MenuItem `json:"items"`
}

type Restaurant struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Categories []MenuCategory `json:"categories"`
}

// Directory is the set of restaurants a guest can order from.
type Directory map[string]Restaurant

func (d Directory) Known(id string) bool {
	_, ok := d[id]
	return ok
}

func (d Directory) List() []Restaurant {
	out := make([]Restaurant, 0, len(d))
	for _, r := range d {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Item finds a menu item and turns it into a cart line of qty.
func (d Directory) Item(restaurantID, itemID string, qty int) (CartItem, bool) {
	r, ok := d[restaurantID]
	if !ok {
		return CartItem{}, false
	}
	for _, c := range r.Categories {
		for _, it := range c.Items {
			if it.ID == itemID {
				return CartItem{ItemID: it.ID, Name: it.Name, PriceCents: it.PriceCents, Qty: qty}, true
			}
		}
	}
	return CartItem{}, false
}

// DemoDirectory is the built-in demo menu set.
func DemoDirectory() Directory {
	return Directory{
		"pasta-palace": {
			ID:   "pasta-palace",
			Name: "Pasta Palace",
			Categories: []MenuCategory{
				{ID: "starters", Name: "Starters", Items: []MenuItem{
					{ID: "bruschetta", Name: "Bruschetta", PriceCents: 850, Description: "Tomato, basil, toasted bread"},
					{ID: "meatballs", Name: "Meatballs", PriceCents: 1090, Description: "Marinara, parmesan"},
				}},
				{ID: "mains", Name: "Mains", Items: []MenuItem{
					{ID: "carbonara", Name: "Spaghetti Carbonara", PriceCents: 1790, Description: "Pancetta, egg, pecorino"},
					{ID: "lasagna", Name: "Lasagna", PriceCents: 1890, Description: "Bolognese, béchamel"},
				}},
			},
		},
		"taco-town": {
			ID:   "taco-town",
			Name: "Taco Town",
			Categories: []MenuCategory{
				{ID: "tacos", Name: "Tacos", Items: []MenuItem{
					{ID: "carnitas", Name: "Carnitas Taco", PriceCents: 450, Description: "Pork, salsa verde"},
					{ID: "pollo", Name: "Pollo Taco", PriceCents: 430, Description: "Chicken, pico"},
				}},
				{ID: "drinks", Name: "Drinks", Items: []MenuItem{
					{ID: "horchata", Name: "Horchata", PriceCents: 390, Description: "Cinnamon rice milk"},
					{ID: "soda", Name: "Mexican Soda", PriceCents: 320, Description: "Assorted flavors"},
				}},
			},
		},
		"sushi-station": {
			ID:   "sushi-station",
			Name: "Sushi Station",
			Categories: []MenuCategory{
				{ID: "rolls", Name: "Rolls", Items: []MenuItem{
					{ID: "california", Name: "California Roll", PriceCents: 1290, Description: "Crab, avocado"},
					{ID: "spicytuna", Name: "Spicy Tuna Roll", PriceCents: 1390, Description: "Tuna, chili"},
				}},
				{ID: "nigiri", Name: "Nigiri", Items: []MenuItem{
					{ID: "salmon", Name: "Salmon Nigiri", PriceCents: 590, Description: "2 pcs"},
					{ID: "eel", Name: "Eel Nigiri", PriceCents: 690, Description: "2 pcs"},
				}},
			},
		},
	}
}
