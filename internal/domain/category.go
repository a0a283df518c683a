package domain

// Category is a merchant category code from the closed set the model was
// trained on. The one-hot layout of the feature vector depends on this set
// staying closed; new categories require a retrained model.
type Category string

const (
	CategoryEntertainment Category = "entertainment"
	CategoryFoodDining    Category = "food_dining"
	CategoryGasTransport  Category = "gas_transport"
	CategoryGroceryNet    Category = "grocery_net"
	CategoryGroceryPOS    Category = "grocery_pos"
	CategoryHealthFitness Category = "health_fitness"
	CategoryHome          Category = "home"
	CategoryKidsPets      Category = "kids_pets"
	CategoryMiscNet       Category = "misc_net"
	CategoryMiscPOS       Category = "misc_pos"
	CategoryPersonalCare  Category = "personal_care"
	CategoryShoppingNet   Category = "shopping_net"
	CategoryShoppingPOS   Category = "shopping_pos"
	CategoryTravel        Category = "travel"
)

var categories = []Category{
	CategoryEntertainment,
	CategoryFoodDining,
	CategoryGasTransport,
	CategoryGroceryNet,
	CategoryGroceryPOS,
	CategoryHealthFitness,
	CategoryHome,
	CategoryKidsPets,
	CategoryMiscNet,
	CategoryMiscPOS,
	CategoryPersonalCare,
	CategoryShoppingNet,
	CategoryShoppingPOS,
	CategoryTravel,
}

// Categories returns the closed category set in canonical order.
func Categories() []Category {
	out := make([]Category, len(categories))
	copy(out, categories)
	return out
}

// Valid reports whether c is a member of the closed category set.
func (c Category) Valid() bool {
	for _, known := range categories {
		if c == known {
			return true
		}
	}
	return false
}
